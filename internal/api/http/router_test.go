package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"

	apihttp "github.com/spec-kit/registration-service/internal/api/http"
	"github.com/spec-kit/registration-service/internal/api/http/handlers"
	"github.com/spec-kit/registration-service/internal/auth"
	"github.com/spec-kit/registration-service/internal/config"
	"github.com/spec-kit/registration-service/internal/dispatch"
	"github.com/spec-kit/registration-service/internal/domain"
	"github.com/spec-kit/registration-service/internal/events"
	"github.com/spec-kit/registration-service/internal/mail"
	"github.com/spec-kit/registration-service/internal/observability"
	"github.com/spec-kit/registration-service/internal/repository/memory"
	"github.com/spec-kit/registration-service/internal/service"
	"github.com/spec-kit/registration-service/internal/tokens"
)

const dispatchSecret = "cron-secret"

type sinkProvider struct {
	mu   sync.Mutex
	sent []mail.Message
}

func (p *sinkProvider) Send(_ context.Context, msg mail.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, msg)
	return nil
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

type RouterSuite struct {
	suite.Suite
	app      *fiber.App
	store    *memory.Store
	provider *sinkProvider
	tokens   *auth.TokenManager
	super    string
	payment  string
}

func TestRouterSuite(t *testing.T) {
	suite.Run(t, new(RouterSuite))
}

func (s *RouterSuite) SetupTest() {
	s.build(dispatch.Config{Mode: dispatch.ModeCapped, CapMaxPerRun: 1, RetryOn429: 1, ClaimTTL: time.Minute}, nil)
}

func (s *RouterSuite) build(dispatchCfg dispatch.Config, readiness map[string]handlers.Pinger) {
	logger := zap.NewNop()
	metrics := observability.NewMetrics()
	s.store = memory.NewStore()
	s.provider = &sinkProvider{}
	s.tokens = auth.NewTokenManager("jwt-secret", 5)

	review := service.NewReviewService(service.ReviewDependencies{
		TxManager:        s.store,
		RegistrationRepo: s.store.Registrations(),
		OutboxRepo:       s.store.Outbox(),
		Tokens:           tokens.NewStore(s.store.Tokens(), "digest"),
		Authorizer:       auth.NewRoleAuthorizer(),
		Dispatcher:       events.NewInMemoryDispatcher(logger),
		Config:           config.ReviewConfig{UpdateTokenTTLHours: 72},
		PublicBaseURL:    "https://portal.example.com",
	})
	dispatcher := dispatch.New(dispatch.Dependencies{
		Outbox:   s.store.Outbox(),
		Provider: s.provider,
		Renderer: mail.NewRenderer("noreply@example.com"),
		Ledger:   dispatch.NewMemoryLedger(),
		Metrics:  metrics,
		Sleep:    func(context.Context, time.Duration) error { return nil },
	})

	if readiness == nil {
		readiness = map[string]handlers.Pinger{"postgres": pinger{}}
	}
	s.app = apihttp.NewApp("test", logger, time.Second, apihttp.RouteConfig{
		Health:         handlers.NewHealthHandler("test", "v0", readiness),
		Registrations:  handlers.NewRegistrationsHandler(review),
		Update:         handlers.NewUpdateHandler(review),
		Dispatch:       handlers.NewDispatchHandler(dispatcher, dispatchCfg, dispatchSecret, time.Minute),
		Metrics:        metrics,
		AuthMiddleware: auth.NewAuthMiddleware(s.tokens),
	})

	s.super = s.token(domain.RoleSuperAdmin)
	s.payment = s.token(domain.RolePaymentAdmin)
}

func (s *RouterSuite) token(roles ...domain.AdminRole) string {
	tok, _, err := s.tokens.GenerateToken(domain.Principal{SubjectID: "admin", Roles: roles})
	s.Require().NoError(err)
	return tok
}

func (s *RouterSuite) do(method, target, bearer string, body any) (int, map[string]any) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		s.Require().NoError(err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := s.app.Test(req, -1)
	s.Require().NoError(err)
	defer resp.Body.Close()

	out := map[string]any{}
	raw, err := io.ReadAll(resp.Body)
	s.Require().NoError(err)
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		s.Require().NoError(json.Unmarshal(raw, &out))
	}
	return resp.StatusCode, out
}

func (s *RouterSuite) createRegistration() string {
	status, body := s.do(http.MethodPost, "/registrations", "", map[string]string{
		"email":    "ada@example.com",
		"fullName": "Ada Lovelace",
	})
	s.Require().Equal(http.StatusCreated, status)
	s.Equal(true, body["ok"])
	id, _ := body["id"].(string)
	s.Require().NotEmpty(id)
	return id
}

func errorField(body map[string]any, field string) string {
	e, _ := body["error"].(map[string]any)
	v, _ := e[field].(string)
	return v
}

func (s *RouterSuite) TestCreateRegistrationValidation() {
	status, body := s.do(http.MethodPost, "/registrations", "", map[string]string{"email": "x"})
	s.Equal(http.StatusBadRequest, status)
	s.Equal(false, body["ok"])
	s.Equal("VALIDATION_FAILED", errorField(body, "code"))
}

func (s *RouterSuite) TestAdminRoutesRequireToken() {
	id := s.createRegistration()

	status, body := s.do(http.MethodPost, "/registrations/"+id+"/mark-pass", "", map[string]string{"dimension": "payment"})
	s.Equal(http.StatusUnauthorized, status)
	s.Equal("UNAUTHORIZED", errorField(body, "code"))

	status, _ = s.do(http.MethodPost, "/registrations/"+id+"/mark-pass", s.token(), map[string]string{"dimension": "payment"})
	s.Equal(http.StatusForbidden, status)
}

func (s *RouterSuite) TestMarkPassInvalidDimension() {
	id := s.createRegistration()

	for _, body := range []any{map[string]string{"dimension": "invalid_dimension"}, map[string]string{}, nil} {
		status, resp := s.do(http.MethodPost, "/registrations/"+id+"/mark-pass", s.super, body)
		s.Equal(http.StatusBadRequest, status)
		s.Contains(errorField(resp, "message"), "Invalid dimension")
	}
}

func (s *RouterSuite) TestDimensionAdminForbiddenOnOtherDimension() {
	id := s.createRegistration()

	status, body := s.do(http.MethodPost, "/registrations/"+id+"/request-update", s.payment, map[string]string{
		"dimension": "profile",
		"notes":     "photo missing",
	})
	s.Equal(http.StatusForbidden, status)
	s.Contains(errorField(body, "message"), "forbidden")
}

func (s *RouterSuite) TestReviewFlowToApproval() {
	id := s.createRegistration()

	status, body := s.do(http.MethodPost, "/registrations/"+id+"/request-update", s.payment, map[string]string{
		"dimension": "payment",
		"notes":     "fix slip",
	})
	s.Require().Equal(http.StatusCreated, status)
	s.Equal(true, body["ok"])
	s.Equal(id, body["id"])
	s.Equal("payment", body["dimension"])

	var last map[string]any
	for _, d := range []string{"payment", "profile", "tcc"} {
		status, last = s.do(http.MethodPost, "/registrations/"+id+"/mark-pass", s.super, map[string]string{"dimension": d})
		s.Require().Equal(http.StatusOK, status)
	}
	s.Equal(true, last["all_passed"])
	s.Equal("approved", last["status"])

	status, body = s.do(http.MethodPost, "/registrations/"+id+"/approve", s.super, nil)
	s.Equal(http.StatusOK, status)
	s.Contains(body["message"], "approved")

	status, body = s.do(http.MethodGet, "/registrations/"+id, s.payment, nil)
	s.Require().Equal(http.StatusOK, status)
	reg, _ := body["registration"].(map[string]any)
	s.Equal("approved", reg["status"])
}

func (s *RouterSuite) TestStrictApproveConflict() {
	id := s.createRegistration()
	status, body := s.do(http.MethodPost, "/registrations/"+id+"/approve", s.super, map[string]string{})
	s.Equal(http.StatusConflict, status)
	s.Equal("INVALID_STATE", errorField(body, "code"))
}

func (s *RouterSuite) TestRejectRequiresSuperAdmin() {
	id := s.createRegistration()
	status, _ := s.do(http.MethodPost, "/registrations/"+id+"/reject", s.payment, map[string]string{"reason": "x"})
	s.Equal(http.StatusForbidden, status)

	status, body := s.do(http.MethodPost, "/registrations/"+id+"/reject", s.super, map[string]string{"reason": "x"})
	s.Equal(http.StatusOK, status)
	s.Contains(body["message"], "rejected")
}

func (s *RouterSuite) TestUpdateLinkLifecycle() {
	id := s.createRegistration()
	_, _ = s.do(http.MethodPost, "/registrations/"+id+"/request-update", s.super, map[string]string{"dimension": "tcc"})

	entries := s.store.OutboxEntries()
	var payload map[string]any
	s.Require().NoError(json.Unmarshal(entries[len(entries)-1].Payload, &payload))
	rawURL, _ := payload["update_url"].(string)
	link, err := url.Parse(rawURL)
	s.Require().NoError(err)
	token := link.Query().Get("token")

	status, body := s.do(http.MethodGet, "/update?token="+url.QueryEscape(token), "", nil)
	s.Require().Equal(http.StatusOK, status)
	s.Equal(true, body["valid"])
	s.Equal("tcc", body["dimension"])

	status, body = s.do(http.MethodPost, "/update", "", map[string]string{"token": token})
	s.Require().Equal(http.StatusOK, status)
	s.Equal("waiting_for_review", body["status"])

	for _, probe := range []func() (int, map[string]any){
		func() (int, map[string]any) { return s.do(http.MethodGet, "/update?token="+url.QueryEscape(token), "", nil) },
		func() (int, map[string]any) {
			return s.do(http.MethodPost, "/update", "", map[string]string{"token": token})
		},
		func() (int, map[string]any) { return s.do(http.MethodGet, "/update?token=unknown", "", nil) },
	} {
		status, body = probe()
		s.Equal(http.StatusNotFound, status)
		s.Equal("this link is no longer valid", errorField(body, "message"))
	}
}

func (s *RouterSuite) TestDispatchRequiresSecret() {
	status, _ := s.do(http.MethodGet, "/dispatch-emails", "", nil)
	s.Equal(http.StatusUnauthorized, status)
	status, _ = s.do(http.MethodGet, "/dispatch-emails", "wrong", nil)
	s.Equal(http.StatusUnauthorized, status)
}

func (s *RouterSuite) TestDispatchDryRun() {
	s.createRegistration()
	s.createRegistration()

	status, body := s.do(http.MethodGet, "/dispatch-emails?dry_run=true", dispatchSecret, nil)
	s.Require().Equal(http.StatusOK, status)
	s.Equal(true, body["ok"])
	s.Equal(true, body["dryRun"])
	s.EqualValues(0, body["sent"])
	s.EqualValues(2, body["wouldSend"])
	s.Empty(s.provider.sent)

	for _, key := range []string{"sent", "wouldSend", "capped", "blocked", "errors", "remaining", "rateLimited", "retries", "timestamp"} {
		s.Contains(body, key)
	}
}

func (s *RouterSuite) TestDispatchCappedAtOne() {
	for i := 0; i < 3; i++ {
		s.createRegistration()
	}

	status, body := s.do(http.MethodGet, "/dispatch-emails", dispatchSecret, nil)
	s.Require().Equal(http.StatusOK, status)
	s.EqualValues(1, body["sent"])
	s.EqualValues(0, body["wouldSend"])
	capped, _ := body["capped"].(float64)
	remaining, _ := body["remaining"].(float64)
	s.GreaterOrEqual(capped+remaining, float64(2))
	s.Len(s.provider.sent, 1)

	status, body = s.do(http.MethodGet, "/metrics", "", nil)
	s.Equal(http.StatusOK, status)
}

func (s *RouterSuite) TestDispatchRejectsBadDryRunFlag() {
	status, _ := s.do(http.MethodGet, "/dispatch-emails?dry_run=maybe", dispatchSecret, nil)
	s.Equal(http.StatusBadRequest, status)
}

func (s *RouterSuite) TestHealth() {
	status, body := s.do(http.MethodGet, "/health/live", "", nil)
	s.Equal(http.StatusOK, status)
	s.Equal("alive", body["status"])

	status, _ = s.do(http.MethodGet, "/health/ready", "", nil)
	s.Equal(http.StatusOK, status)

	s.build(dispatch.Config{Mode: dispatch.ModeDryRun, ClaimTTL: time.Minute}, map[string]handlers.Pinger{
		"postgres": pinger{},
		"redis":    pinger{err: errors.New("connection refused")},
	})
	status, body = s.do(http.MethodGet, "/health/ready", "", nil)
	s.Equal(http.StatusServiceUnavailable, status)
	s.Equal("DEPENDENCY_UNAVAILABLE", errorField(body, "code"))
}

func (s *RouterSuite) TestMetricsExposeRequests() {
	s.createRegistration()
	// later requests reuse fiber's buffers and must not rewrite earlier labels
	for i := 0; i < 3; i++ {
		status, _ := s.do(http.MethodGet, "/health/live", "", nil)
		s.Require().Equal(http.StatusOK, status)
	}
	status, _ := s.do(http.MethodGet, "/update?token=unknown", "", nil)
	s.Require().Equal(http.StatusNotFound, status)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	resp, err := s.app.Test(req, -1)
	s.Require().NoError(err)
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	s.Equal(http.StatusOK, resp.StatusCode)
	body := string(raw)
	s.Contains(body, `registration_service_http_requests_total{method="POST",route="/registrations",status="201"} 1`)
	s.Contains(body, `registration_service_http_requests_total{method="GET",route="/health/live",status="200"} 3`)
	s.Contains(body, `registration_service_http_errors_total{code="TOKEN_INVALID",method="GET",route="/update"} 1`)
}

func (s *RouterSuite) TestUnknownRoute() {
	status, body := s.do(http.MethodGet, "/nope", "", nil)
	s.Equal(http.StatusNotFound, status)
	s.Equal(false, body["ok"])
	s.Equal("NOT_FOUND", errorField(body, "code"))
}
