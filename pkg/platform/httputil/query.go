package httputil

import (
	"net/url"
	"strconv"
	"time"

	dErrors "warden/pkg/domain-errors"
)

// DateLayout is the calendar-day form accepted wherever a time is.
const DateLayout = "2006-01-02"

// QueryInt parses an optional integer parameter. Missing values return def.
func QueryInt(q url.Values, name string, def int) (int, error) {
	raw := q.Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, dErrors.New(dErrors.CodeInvalidInput, name+" must be an integer")
	}
	return n, nil
}

// QueryBool parses an optional boolean parameter. Missing values return nil.
func QueryBool(q url.Values, name string) (*bool, error) {
	raw := q.Get(name)
	if raw == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, name+" must be true or false")
	}
	return &b, nil
}

// QueryTime parses an optional RFC 3339 timestamp or YYYY-MM-DD date (UTC midnight).
func QueryTime(q url.Values, name string) (time.Time, error) {
	raw := q.Get(name)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(DateLayout, raw); err == nil {
		return t, nil
	}
	return time.Time{}, dErrors.New(dErrors.CodeInvalidInput, name+" must be RFC 3339 or YYYY-MM-DD")
}

// Pagination converts page (1-based) and limit parameters into limit and offset.
// An explicit offset parameter wins over page.
func Pagination(q url.Values, defaultLimit int) (limit, offset int, err error) {
	if limit, err = QueryInt(q, "limit", defaultLimit); err != nil {
		return 0, 0, err
	}
	if limit < 0 {
		return 0, 0, dErrors.New(dErrors.CodeInvalidInput, "limit cannot be negative")
	}
	if q.Has("offset") {
		offset, err = QueryInt(q, "offset", 0)
		return limit, offset, err
	}
	page, err := QueryInt(q, "page", 1)
	if err != nil {
		return 0, 0, err
	}
	if page < 1 {
		return 0, 0, dErrors.New(dErrors.CodeInvalidInput, "page must be at least 1")
	}
	return limit, (page - 1) * limit, nil
}
