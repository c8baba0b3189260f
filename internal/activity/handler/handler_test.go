package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	"warden/internal/access/identity"
	accessmodels "warden/internal/access/models"
	"warden/internal/activity/ingestor"
	"warden/internal/activity/models"
	"warden/internal/activity/service"
	"warden/internal/activity/store/memory"
	auditservice "warden/internal/audit/service"
	auditmemory "warden/internal/audit/store/memory"
	id "warden/pkg/domain"
	"warden/pkg/requestcontext"
)

// allowAll admits every request as the configured actor.
type allowAll struct {
	actor *accessmodels.Actor
}

func (a allowAll) Require(accessmodels.Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(identity.WithActor(r.Context(), a.actor)))
		})
	}
}

type HandlerSuite struct {
	suite.Suite
	store    *memory.Store
	ingestor *ingestor.Ingestor
	router   chi.Router
	actor    *accessmodels.Actor
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.store = memory.New()
	s.ingestor = ingestor.New(s.store, ingestor.WithLogger(logger))
	s.T().Cleanup(s.ingestor.Close)

	svc := service.New(s.store, auditservice.New(auditmemory.New(), auditservice.WithLogger(logger)), service.WithLogger(logger))
	s.actor = &accessmodels.Actor{ID: id.NewActorID(), Role: accessmodels.RoleAdmin}

	h := New(svc, s.ingestor, logger)
	s.router = chi.NewRouter()
	h.Register(s.router, allowAll{actor: s.actor})
	h.RegisterIntake(s.router)
}

func (s *HandlerSuite) do(method, target, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	req = req.WithContext(requestcontext.WithClientMetadata(req.Context(), "192.0.2.44", "curl/8.0"))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *HandlerSuite) seed(resolved bool) *models.SecurityEvent {
	ev := &models.SecurityEvent{
		ID:        id.NewEventID(),
		Type:      models.EventPermissionDenied,
		Severity:  models.SeverityHigh,
		Resolved:  resolved,
		CreatedAt: time.Now().UTC(),
	}
	s.Require().NoError(s.store.AppendSecurity(context.Background(), ev))
	return ev
}

func (s *HandlerSuite) TestListFiltersByResolved() {
	open := s.seed(false)
	s.seed(true)

	rec := s.do(http.MethodGet, "/admin/security-events?resolved=false&severity=high", "")
	s.Require().Equal(http.StatusOK, rec.Code)

	var page models.SecurityPage
	s.Require().NoError(json.NewDecoder(rec.Body).Decode(&page))
	s.Require().Len(page.Events, 1)
	s.Equal(open.ID, page.Events[0].ID)
}

func (s *HandlerSuite) TestListRejectsBadSeverity() {
	rec := s.do(http.MethodGet, "/admin/security-events?severity=urgent", "")
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *HandlerSuite) TestResolve() {
	ev := s.seed(false)

	rec := s.do(http.MethodPatch, "/admin/security-events/"+ev.ID.String()+"/resolve", "")
	s.Require().Equal(http.StatusOK, rec.Code)
	var got models.SecurityEvent
	s.Require().NoError(json.NewDecoder(rec.Body).Decode(&got))
	s.True(got.Resolved)
	s.Equal(s.actor.ID, *got.ResolvedBy)

	rec = s.do(http.MethodPatch, "/admin/security-events/"+ev.ID.String()+"/resolve", "")
	s.Equal(http.StatusConflict, rec.Code)

	rec = s.do(http.MethodPatch, "/admin/security-events/not-a-uuid/resolve", "")
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *HandlerSuite) TestIntakeFeedsTimeline() {
	user := id.NewActorID()
	body := `{"user_id":"` + user.String() + `","event_type":"listing_viewed","data":{"listing_id":"l-1"}}`
	rec := s.do(http.MethodPost, "/internal/events", body)
	s.Require().Equal(http.StatusAccepted, rec.Code)
	s.Require().NoError(s.ingestor.Flush(context.Background()))

	rec = s.do(http.MethodGet, "/admin/users/"+user.String()+"/timeline", "")
	s.Require().Equal(http.StatusOK, rec.Code)
	var resp struct {
		Events []*models.UserEvent `json:"events"`
		Total  int                 `json:"total"`
	}
	s.Require().NoError(json.NewDecoder(rec.Body).Decode(&resp))
	s.Require().Equal(1, resp.Total)
	s.Equal("listing", resp.Events[0].Category)
	s.Equal("192.0.2.44", resp.Events[0].IPAddress)
}

func (s *HandlerSuite) TestSecurityIntake() {
	rec := s.do(http.MethodPost, "/internal/security-events", `{"event_type":"failed_login","ip_address":"198.51.100.9"}`)
	s.Require().Equal(http.StatusAccepted, rec.Code)
	s.Require().NoError(s.ingestor.Flush(context.Background()))

	events, err := s.store.ListSecurity(context.Background(), models.SecurityFilter{})
	s.Require().NoError(err)
	s.Require().Len(events, 1)
	s.Equal(models.SeverityMedium, events[0].Severity)
	s.Equal("198.51.100.9", events[0].IPAddress)
	s.Equal("curl/8.0", events[0].UserAgent)

	rec = s.do(http.MethodPost, "/internal/security-events", `{"event_type":"made_up"}`)
	s.Equal(http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/internal/security-events", `{"event_type":"failed_login","severity":"low"}`)
	s.Equal(http.StatusBadRequest, rec.Code, "callers cannot choose severity")
}
