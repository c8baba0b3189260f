package redact

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMap(t *testing.T) {
	t.Run("masks matching keys case insensitively", func(t *testing.T) {
		got := Map(map[string]any{
			"password_hash": "abc123",
			"API_KEY":       "k",
			"refreshToken":  "t",
			"ClientSecret":  "s",
			"email":         "a@example.com",
		})
		assert.Equal(t, map[string]any{
			"password_hash": Marker,
			"API_KEY":       Marker,
			"refreshToken":  Marker,
			"ClientSecret":  Marker,
			"email":         "a@example.com",
		}, got)
	})

	t.Run("walks nested maps and slices", func(t *testing.T) {
		got := Map(map[string]any{
			"profile": map[string]any{
				"name":   "ana",
				"tokens": []any{"x", "y"},
			},
			"devices": []any{
				map[string]any{"push_token": "p", "model": "pixel"},
			},
			"headers": map[string]string{"x-api-key": "h"},
		})
		assert.Equal(t, map[string]any{
			"profile": map[string]any{
				"name":   "ana",
				"tokens": Marker,
			},
			"devices": []any{
				map[string]any{"push_token": Marker, "model": "pixel"},
			},
			"headers": map[string]any{"x-api-key": Marker},
		}, got)
	})

	t.Run("does not mutate input", func(t *testing.T) {
		in := map[string]any{"password": "hunter2", "nested": map[string]any{"secret": "s"}}
		_ = Map(in)
		assert.Equal(t, "hunter2", in["password"])
		assert.Equal(t, "s", in["nested"].(map[string]any)["secret"])
	})

	t.Run("nil stays nil", func(t *testing.T) {
		assert.Nil(t, Map(nil))
	})

	t.Run("keys are substring matched", func(t *testing.T) {
		assert.True(t, IsSensitive("monkey"))
		assert.False(t, IsSensitive("is_banned"))
	})
}
