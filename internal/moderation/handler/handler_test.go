package handler

// Justification: the ban flow crosses identity resolution, the guard, the
// ingestor, moderation and the audit recorder. These tests run them together
// over in-memory stores so the denial and success paths are checked end to end.

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
	"go.uber.org/mock/gomock"

	"warden/internal/access/guard"
	"warden/internal/access/identity"
	accessmodels "warden/internal/access/models"
	"warden/internal/access/registry"
	activitymodels "warden/internal/activity/models"
	"warden/internal/activity/ingestor"
	activitymemory "warden/internal/activity/store/memory"
	auditmodels "warden/internal/audit/models"
	auditservice "warden/internal/audit/service"
	auditmemory "warden/internal/audit/store/memory"
	"warden/internal/moderation/mocks"
	"warden/internal/moderation/service"
	"warden/internal/moderation/store/memory"
	"warden/pkg/testutil"
)

type ModerationFlowSuite struct {
	suite.Suite
	router     chi.Router
	tokens     *identity.TokenService
	actors     *memory.Store
	events     *activitymemory.Store
	auditStore *auditmemory.Store
	sessions   *mocks.MockSessionRevoker
	ingestor   *ingestor.Ingestor

	support    *accessmodels.Actor
	admin      *accessmodels.Actor
	superAdmin *accessmodels.Actor
	user       *accessmodels.Actor
}

func TestModerationFlowSuite(t *testing.T) {
	suite.Run(t, new(ModerationFlowSuite))
}

func (s *ModerationFlowSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := registry.Default()

	s.actors = memory.New()
	s.events = activitymemory.New()
	s.auditStore = auditmemory.New()
	s.sessions = mocks.NewMockSessionRevoker(gomock.NewController(s.T()))
	s.ingestor = ingestor.New(s.events, ingestor.WithLogger(logger))
	s.tokens = identity.NewTokenService("test-signing-key", "warden", time.Hour)

	g := guard.New(reg, s.ingestor, guard.WithLogger(logger))
	svc := service.New(s.actors, s.sessions,
		auditservice.New(s.auditStore, auditservice.WithLogger(logger)),
		reg,
		service.WithLogger(logger),
		service.WithSecurityRecorder(s.ingestor),
	)

	s.router = chi.NewRouter()
	s.router.Use(identity.Authenticate(s.tokens, s.actors, logger))
	New(svc, logger).Register(s.router, g)

	s.support = s.seed(accessmodels.RoleSupport)
	s.admin = s.seed(accessmodels.RoleAdmin)
	s.superAdmin = s.seed(accessmodels.RoleSuperAdmin)
	s.user = s.seed(accessmodels.RoleUser)
}

func (s *ModerationFlowSuite) TearDownTest() {
	s.ingestor.Close()
}

func (s *ModerationFlowSuite) seed(role accessmodels.Role) *accessmodels.Actor {
	a := testutil.NewActor(role).Build()
	s.Require().NoError(s.actors.Create(context.Background(), a))
	return a
}

func (s *ModerationFlowSuite) do(as *accessmodels.Actor, method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader = http.NoBody
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if as != nil {
		token, err := s.tokens.Issue(context.Background(), as.ID)
		s.Require().NoError(err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *ModerationFlowSuite) auditEntries() []*auditmodels.Entry {
	entries, err := s.auditStore.List(context.Background(), auditmodels.Filter{})
	s.Require().NoError(err)
	return entries
}

func (s *ModerationFlowSuite) securityEvents(t activitymodels.SecurityEventType) []*activitymodels.SecurityEvent {
	events, err := s.events.ListSecurity(context.Background(), activitymodels.SecurityFilter{Type: t})
	s.Require().NoError(err)
	return events
}

func (s *ModerationFlowSuite) TestSupportCannotBan() {
	rec := s.do(s.support, http.MethodPost, "/admin/users/"+s.user.ID.String()+"/ban", `{"reason":"fraud"}`)
	s.Require().Equal(http.StatusForbidden, rec.Code)

	var body map[string]string
	s.Require().NoError(json.NewDecoder(rec.Body).Decode(&body))
	s.Equal("access denied", body["error_description"])

	denied := s.securityEvents(activitymodels.EventPermissionDenied)
	s.Require().Len(denied, 1)
	s.Equal(activitymodels.SeverityHigh, denied[0].Severity)
	s.Equal(s.support.ID, *denied[0].UserID)

	s.Empty(s.auditEntries())
	stored, err := s.actors.GetActor(context.Background(), s.user.ID)
	s.Require().NoError(err)
	s.False(stored.Banned)
}

func (s *ModerationFlowSuite) TestSuperAdminBans() {
	s.sessions.EXPECT().RevokeAllSessions(gomock.Any(), s.user.ID).Return(nil).Times(1)

	rec := s.do(s.superAdmin, http.MethodPost, "/admin/users/"+s.user.ID.String()+"/ban", `{"reason":"fraud"}`)
	s.Require().Equal(http.StatusOK, rec.Code)

	var body ActorResponse
	s.Require().NoError(json.NewDecoder(rec.Body).Decode(&body))
	s.Equal(accessmodels.StatusBanned, body.Status)
	s.Equal("fraud", body.BanReason)

	entries := s.auditEntries()
	s.Require().Len(entries, 1)
	s.Equal(auditmodels.ActionUserBan, entries[0].Action)
	s.Equal(map[string]any{"is_banned": false}, entries[0].Before)
	s.Equal(map[string]any{"is_banned": true, "ban_reason": "fraud"}, entries[0].After)
	s.Len(s.securityEvents(activitymodels.EventSessionRevoked), 1)
}

func (s *ModerationFlowSuite) TestUnbanIsLevelGated() {
	s.sessions.EXPECT().RevokeAllSessions(gomock.Any(), s.user.ID).Return(nil).Times(2)
	s.Require().Equal(http.StatusOK,
		s.do(s.admin, http.MethodPost, "/admin/users/"+s.user.ID.String()+"/ban", `{"reason":"spam"}`).Code)

	s.Equal(http.StatusForbidden, s.do(s.admin, http.MethodPost, "/admin/users/"+s.user.ID.String()+"/unban", "").Code)
	s.Equal(http.StatusOK, s.do(s.superAdmin, http.MethodPost, "/admin/users/"+s.user.ID.String()+"/unban", "").Code)
}

func (s *ModerationFlowSuite) TestBannedActorLosesAccess() {
	s.sessions.EXPECT().RevokeAllSessions(gomock.Any(), s.admin.ID).Return(nil).Times(1)
	s.Require().Equal(http.StatusOK,
		s.do(s.superAdmin, http.MethodPost, "/admin/users/"+s.admin.ID.String()+"/ban", `{"reason":"compromised"}`).Code)

	rec := s.do(s.admin, http.MethodGet, "/admin/users/"+s.user.ID.String(), "")
	s.Equal(http.StatusForbidden, rec.Code)
	s.Len(s.securityEvents(activitymodels.EventUnauthorizedAccessAttempt), 1)
}

func (s *ModerationFlowSuite) TestGrantRevokeAndRoleChange() {
	path := "/admin/users/" + s.user.ID.String()

	rec := s.do(s.admin, http.MethodPost, path+"/permissions", `{"permission":"security.view"}`)
	s.Require().Equal(http.StatusOK, rec.Code)
	var body ActorResponse
	s.Require().NoError(json.NewDecoder(rec.Body).Decode(&body))
	s.Require().Len(body.Grants, 1)

	s.Equal(http.StatusOK, s.do(s.admin, http.MethodDelete, path+"/permissions/security.view", "").Code)
	s.Equal(http.StatusNotFound, s.do(s.admin, http.MethodDelete, path+"/permissions/security.view", "").Code)

	s.Equal(http.StatusForbidden, s.do(s.admin, http.MethodPut, path+"/role", `{"role":"moderator"}`).Code,
		"admins lack users.role.change")
	s.Equal(http.StatusOK, s.do(s.superAdmin, http.MethodPut, path+"/role", `{"role":"moderator"}`).Code)
	s.Len(s.auditEntries(), 3)
}

func (s *ModerationFlowSuite) TestRequestErrors() {
	s.Equal(http.StatusUnauthorized, s.do(nil, http.MethodGet, "/admin/users/"+s.user.ID.String(), "").Code)
	s.Equal(http.StatusBadRequest, s.do(s.admin, http.MethodPost, "/admin/users/not-a-uuid/ban", `{"reason":"x"}`).Code)
	s.Equal(http.StatusBadRequest, s.do(s.admin, http.MethodPost, "/admin/users/"+s.user.ID.String()+"/ban", `{"reason":""}`).Code)
	s.Equal(http.StatusBadRequest, s.do(s.admin, http.MethodPost, "/admin/users/"+s.user.ID.String()+"/ban", `{"because":"x"}`).Code)
}
