package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"warden/internal/access/models"
	id "warden/pkg/domain"
	dErrors "warden/pkg/domain-errors"
	"warden/pkg/platform/sentinel"
	"warden/pkg/requestcontext"
)

type mapLoader map[id.ActorID]*models.Actor

func (m mapLoader) GetActor(_ context.Context, actorID id.ActorID) (*models.Actor, error) {
	if a, ok := m[actorID]; ok {
		return a, nil
	}
	return nil, fmt.Errorf("get actor: %w", sentinel.ErrNotFound)
}

type brokenLoader struct{}

func (brokenLoader) GetActor(context.Context, id.ActorID) (*models.Actor, error) {
	return nil, errors.New("db down")
}

type IdentitySuite struct {
	suite.Suite
	tokens *TokenService
	actor  *models.Actor
	logger *slog.Logger
}

func TestIdentitySuite(t *testing.T) {
	suite.Run(t, new(IdentitySuite))
}

func (s *IdentitySuite) SetupTest() {
	s.tokens = NewTokenService("test-signing-key-0123456789", "warden", time.Hour)
	s.actor = &models.Actor{ID: id.NewActorID(), Role: models.RoleAdmin}
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (s *IdentitySuite) TestIssueAndValidate() {
	token, err := s.tokens.Issue(context.Background(), s.actor.ID)
	s.Require().NoError(err)

	got, err := s.tokens.Validate(token)
	s.Require().NoError(err)
	s.Equal(s.actor.ID, got)
}

func (s *IdentitySuite) TestValidateRejects() {
	s.Run("expired token", func() {
		past := requestcontext.WithTime(context.Background(), time.Now().Add(-2*time.Hour))
		token, err := s.tokens.Issue(past, s.actor.ID)
		s.Require().NoError(err)
		_, err = s.tokens.Validate(token)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("foreign signing key", func() {
		other := NewTokenService("another-signing-key-0123456789", "warden", time.Hour)
		token, err := other.Issue(context.Background(), s.actor.ID)
		s.Require().NoError(err)
		_, err = s.tokens.Validate(token)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("wrong issuer", func() {
		other := NewTokenService("test-signing-key-0123456789", "someone-else", time.Hour)
		token, err := other.Issue(context.Background(), s.actor.ID)
		s.Require().NoError(err)
		_, err = s.tokens.Validate(token)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("garbage", func() {
		_, err := s.tokens.Validate("not.a.jwt")
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})
}

func (s *IdentitySuite) serve(loader ActorLoader, authHeader string) (*httptest.ResponseRecorder, *models.Actor) {
	var seen *models.Actor
	h := Authenticate(s.tokens, loader, s.logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = ActorFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodGet, "/admin/audit-logs", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec, seen
}

func (s *IdentitySuite) TestAuthenticate() {
	token, err := s.tokens.Issue(context.Background(), s.actor.ID)
	s.Require().NoError(err)
	loader := mapLoader{s.actor.ID: s.actor}

	s.Run("resolves actor", func() {
		rec, seen := s.serve(loader, "Bearer "+token)
		s.Equal(http.StatusNoContent, rec.Code)
		s.Require().NotNil(seen)
		s.Equal(s.actor.ID, seen.ID)
	})

	s.Run("missing header", func() {
		rec, seen := s.serve(loader, "")
		s.Equal(http.StatusUnauthorized, rec.Code)
		s.Nil(seen)
	})

	s.Run("unknown actor", func() {
		rec, _ := s.serve(mapLoader{}, "Bearer "+token)
		s.Equal(http.StatusUnauthorized, rec.Code)
		var body map[string]string
		s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &body))
		s.Equal("unauthorized", body["error"])
	})

	s.Run("loader failure", func() {
		rec, _ := s.serve(brokenLoader{}, "Bearer "+token)
		s.Equal(http.StatusInternalServerError, rec.Code)
	})
}
