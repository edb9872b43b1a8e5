package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap/zaptest"

	"github.com/spec-kit/account-workflows/internal/api/http/handlers"
	"github.com/spec-kit/account-workflows/internal/auth"
	"github.com/spec-kit/account-workflows/internal/changefeed"
	"github.com/spec-kit/account-workflows/internal/domain"
	"github.com/spec-kit/account-workflows/internal/events"
	"github.com/spec-kit/account-workflows/internal/live"
	"github.com/spec-kit/account-workflows/internal/observability"
	"github.com/spec-kit/account-workflows/internal/persistence"
	"github.com/spec-kit/account-workflows/internal/repository/memory"
	"github.com/spec-kit/account-workflows/internal/service"
	"github.com/spec-kit/account-workflows/internal/timemath"
	"github.com/spec-kit/account-workflows/internal/worker"
)

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Details map[string]string `json:"details"`
	} `json:"error"`
}

type RouterSuite struct {
	suite.Suite
	app           *fiber.App
	feed          *changefeed.MemoryFeed
	stopStreams   context.CancelFunc
	adminToken    string
	governorToken string
}

func TestRouterSuite(t *testing.T) {
	suite.Run(t, new(RouterSuite))
}

func (s *RouterSuite) SetupTest() {
	t := s.T()
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	store := memory.NewStore()
	require.NoError(t, store.Investors().Create(ctx, &domain.Investor{ID: "inv-1", Name: "Ivy Investor", Balance: decimal.NewFromInt(500)}))
	require.NoError(t, store.Staff().Create(ctx, &domain.StaffMember{ID: "adm-1", Name: "Alice Admin", Role: domain.RoleAdmin, Active: true}))
	require.NoError(t, store.Staff().Create(ctx, &domain.StaffMember{ID: "gov-1", Name: "Grace Governor", Role: domain.RoleGovernor, Active: true}))

	s.feed = changefeed.NewMemoryFeed()
	dispatcher := events.NewInMemoryDispatcher(logger)
	metrics := observability.NewMetrics()
	clock := timemath.SystemClock{}

	closures := service.NewClosureService(service.ClosureDependencies{
		ClosureRepo:  store.Closures(),
		InvestorRepo: store.Investors(),
		Tx:           store,
		Dispatcher:   dispatcher,
		Feed:         s.feed,
		Clock:        clock,
		Metrics:      metrics,
		Logger:       logger,
	})
	tickets := service.NewTicketService(service.TicketDependencies{
		TicketRepo: store.Tickets(),
		ActionRepo: store.Actions(),
		StaffRepo:  store.Staff(),
		Tx:         store,
		Dispatcher: dispatcher,
		Feed:       s.feed,
		Clock:      clock,
		Metrics:    metrics,
		Logger:     logger,
	})
	redis := &persistence.Redis{}
	sweeper := worker.NewClosureSweepWorker(closures, func() worker.Locker {
		return redis.NewLock(worker.SweepLockKey, time.Minute)
	}, time.Minute, logger)

	tokens := auth.NewTokenManager("test-secret", time.Hour)
	var err error
	s.adminToken, _, err = tokens.GenerateToken(domain.Principal{ID: "adm-1", Role: domain.RoleAdmin})
	require.NoError(t, err)
	s.governorToken, _, err = tokens.GenerateToken(domain.Principal{ID: "gov-1", Role: domain.RoleGovernor})
	require.NoError(t, err)

	var streams context.Context
	streams, s.stopStreams = context.WithCancel(ctx)

	s.app = fiber.New()
	RegisterMiddlewares(s.app, logger, metrics, 5*time.Second)
	RegisterRoutes(s.app, RouteConfig{
		Health:         handlers.NewHealthHandler("account-workflow-service", "test", nil, redis),
		Closures:       handlers.NewClosureHandler(streams, closures, live.NewClosureQuery(closures, s.feed, clock, time.Minute, logger, metrics), sweeper, logger),
		Tickets:        handlers.NewTicketsHandler(streams, tickets, live.NewTicketQuery(tickets, s.feed, logger, metrics), logger),
		AuthMiddleware: auth.NewAuthMiddleware(tokens, store.Staff()),
		Metrics:        metrics.Handler(),
	})
}

func (s *RouterSuite) TearDownTest() {
	s.stopStreams()
	_ = s.feed.Close()
}

func (s *RouterSuite) do(method, path, token string, body any) (int, envelope) {
	t := s.T()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}
	resp, err := s.app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &env), string(raw))
	}
	return resp.StatusCode, env
}

func (s *RouterSuite) decode(env envelope, out any) {
	require.NoError(s.T(), json.Unmarshal(env.Data, out))
}

func (s *RouterSuite) TestHealthReadyWithoutBackends() {
	status, _ := s.do(http.MethodGet, "/health/live", "", nil)
	s.Equal(http.StatusOK, status)

	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	resp, err := s.app.Test(req)
	s.Require().NoError(err)
	var body struct {
		Status       string            `json:"status"`
		Dependencies map[string]string `json:"dependencies"`
	}
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(&body))
	s.Equal("ready", body.Status)
	s.Equal("in-memory", body.Dependencies["postgres"])
	s.Equal("disabled", body.Dependencies["redis"])
}

func (s *RouterSuite) TestUnknownRouteMapsToNotFound() {
	status, env := s.do(http.MethodGet, "/nope", "", nil)
	s.Equal(http.StatusNotFound, status)
	s.Require().NotNil(env.Error)
	s.Equal("NOT_FOUND", env.Error.Code)
}

func (s *RouterSuite) TestAPIRequiresToken() {
	status, env := s.do(http.MethodGet, "/api/v1/tickets", "", nil)
	s.Equal(http.StatusUnauthorized, status)
	s.Require().NotNil(env.Error)
	s.Equal("UNAUTHORIZED", env.Error.Code)
}

func (s *RouterSuite) TestRoleGates() {
	status, env := s.do(http.MethodPost, "/api/v1/closures", s.governorToken, map[string]any{"investorId": "inv-1", "reason": "moving"})
	s.Equal(http.StatusForbidden, status)
	s.Equal("FORBIDDEN", env.Error.Code)

	status, _ = s.do(http.MethodPost, "/api/v1/closures/sweep", s.adminToken, nil)
	s.Equal(http.StatusForbidden, status)
}

func (s *RouterSuite) TestClosureFlow() {
	status, env := s.do(http.MethodPost, "/api/v1/closures", s.adminToken, map[string]any{
		"investorId":     "inv-1",
		"reason":         "relocating",
		"accountBalance": "500",
	})
	s.Require().Equal(http.StatusCreated, status)
	var created struct {
		ID           string `json:"id"`
		Status       string `json:"status"`
		InvestorName string `json:"investorName"`
	}
	s.decode(env, &created)
	s.Equal("Pending", created.Status)
	s.Equal("Ivy Investor", created.InvestorName)

	status, env = s.do(http.MethodPost, "/api/v1/closures", s.adminToken, map[string]any{"investorId": "inv-1", "reason": "again"})
	s.Equal(http.StatusConflict, status)
	s.Equal("CONFLICT", env.Error.Code)

	status, _ = s.do(http.MethodPost, "/api/v1/closures/"+created.ID+"/approve", s.governorToken, nil)
	s.Require().Equal(http.StatusOK, status)

	status, env = s.do(http.MethodGet, "/api/v1/investors/inv-1/closure", s.adminToken, nil)
	s.Require().Equal(http.StatusOK, status)
	var current struct {
		Status    string `json:"status"`
		Countdown struct {
			DaysRemaining int  `json:"daysRemaining"`
			Overdue       bool `json:"overdue"`
		} `json:"countdown"`
		Standing struct {
			Label string `json:"label"`
		} `json:"standing"`
	}
	s.decode(env, &current)
	s.Equal("Approved", current.Status)
	s.Equal(90, current.Countdown.DaysRemaining)
	s.False(current.Countdown.Overdue)
	s.Equal("Closing - 90 days remaining", current.Standing.Label)

	status, env = s.do(http.MethodPost, "/api/v1/closures/sweep", s.governorToken, nil)
	s.Require().Equal(http.StatusOK, status)
	var sweep struct {
		Ran       bool     `json:"ran"`
		Completed []string `json:"completed"`
	}
	s.decode(env, &sweep)
	s.True(sweep.Ran)
	s.Empty(sweep.Completed)
}

func (s *RouterSuite) TestNoCurrentClosureIsNull() {
	status, env := s.do(http.MethodGet, "/api/v1/investors/inv-1/closure", s.adminToken, nil)
	s.Equal(http.StatusOK, status)
	s.JSONEq("null", string(env.Data))
}

func (s *RouterSuite) TestRejectRequiresReason() {
	status, env := s.do(http.MethodPost, "/api/v1/closures/missing/reject", s.governorToken, map[string]any{})
	s.Equal(http.StatusBadRequest, status)
	s.Equal("VALIDATION_FAILED", env.Error.Code)
	s.Equal("required", env.Error.Details["reason"])
}

func (s *RouterSuite) TestTicketFlow() {
	status, env := s.do(http.MethodPost, "/api/v1/tickets", s.adminToken, map[string]any{
		"investorId":  "inv-1",
		"ticketType":  "account_issue",
		"subject":     "Cannot log in",
		"description": "Locked out since Monday",
	})
	s.Require().Equal(http.StatusCreated, status)
	var ticket struct {
		ID       string `json:"id"`
		Status   string `json:"status"`
		Priority string `json:"priority"`
	}
	s.decode(env, &ticket)
	s.Equal("open", ticket.Status)
	s.Equal("medium", ticket.Priority)

	status, _ = s.do(http.MethodPost, "/api/v1/tickets/"+ticket.ID+"/responses", s.adminToken, map[string]any{"content": "note", "isInternal": true})
	s.Equal(http.StatusForbidden, status)

	status, _ = s.do(http.MethodPost, "/api/v1/tickets/"+ticket.ID+"/responses", s.governorToken, map[string]any{"content": "Looking into it"})
	s.Equal(http.StatusCreated, status)

	status, env = s.do(http.MethodGet, "/api/v1/tickets/"+ticket.ID, s.adminToken, nil)
	s.Require().Equal(http.StatusOK, status)
	s.decode(env, &ticket)
	s.Equal("in_progress", ticket.Status)

	status, env = s.do(http.MethodPatch, "/api/v1/tickets/"+ticket.ID+"/status", s.governorToken, map[string]any{"status": "resolved"})
	s.Equal(http.StatusBadRequest, status)
	s.Equal("VALIDATION_FAILED", env.Error.Code)

	status, _ = s.do(http.MethodPatch, "/api/v1/tickets/"+ticket.ID+"/status", s.governorToken, map[string]any{"status": "resolved", "resolution": "Password reset"})
	s.Equal(http.StatusOK, status)

	status, env = s.do(http.MethodGet, "/api/v1/tickets/"+ticket.ID+"/audit/verify", s.governorToken, nil)
	s.Require().Equal(http.StatusOK, status)
	var verification struct {
		Valid bool `json:"valid"`
	}
	s.decode(env, &verification)
	s.True(verification.Valid)
}

func (s *RouterSuite) createTicket() string {
	status, env := s.do(http.MethodPost, "/api/v1/tickets", s.adminToken, map[string]any{
		"investorId":  "inv-1",
		"ticketType":  "suspicious_activity",
		"subject":     "Unusual withdrawals",
		"description": "Three withdrawals in an hour",
	})
	s.Require().Equal(http.StatusCreated, status)
	var ticket struct {
		ID string `json:"id"`
	}
	s.decode(env, &ticket)
	return ticket.ID
}

func (s *RouterSuite) TestMutationsHideInternalNotesFromAdmins() {
	id := s.createTicket()
	status, _ := s.do(http.MethodPost, "/api/v1/tickets/"+id+"/responses", s.governorToken, map[string]any{"content": "governor-only note", "isInternal": true})
	s.Require().Equal(http.StatusCreated, status)

	type detail struct {
		Responses []struct {
			Content    string `json:"content"`
			IsInternal bool   `json:"isInternal"`
		} `json:"responses"`
	}

	status, env := s.do(http.MethodPost, "/api/v1/tickets/"+id+"/escalate", s.adminToken, map[string]any{"reason": "fraud suspected"})
	s.Require().Equal(http.StatusOK, status)
	var escalated detail
	s.decode(env, &escalated)
	s.Empty(escalated.Responses)

	status, _ = s.do(http.MethodPost, "/api/v1/tickets/"+id+"/responses", s.adminToken, map[string]any{"content": "any update?"})
	s.Require().Equal(http.StatusCreated, status)

	status, env = s.do(http.MethodPost, "/api/v1/tickets/"+id+"/assign", s.governorToken, map[string]any{"assigneeId": "gov-1"})
	s.Require().Equal(http.StatusOK, status)
	var governorView detail
	s.decode(env, &governorView)
	s.Require().Len(governorView.Responses, 2)
	s.True(governorView.Responses[0].IsInternal)

	status, env = s.do(http.MethodGet, "/api/v1/tickets/"+id, s.adminToken, nil)
	s.Require().Equal(http.StatusOK, status)
	var adminView detail
	s.decode(env, &adminView)
	s.Require().Len(adminView.Responses, 1)
	s.Equal("any update?", adminView.Responses[0].Content)
}

func (s *RouterSuite) TestStreamEndsWhenStreamsStop() {
	s.createTicket()
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.stopStreams()
	}()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tickets/stream?access_token="+s.adminToken, nil)
	resp, err := s.app.Test(req, 3000)
	s.Require().NoError(err)
	defer resp.Body.Close()

	s.Equal("text/event-stream", resp.Header.Get(fiber.HeaderContentType))
	body, err := io.ReadAll(resp.Body)
	s.Require().NoError(err)
	s.Contains(string(body), "event: tickets\ndata: [")
	s.Contains(string(body), "Unusual withdrawals")
}

func (s *RouterSuite) TestCreateTicketValidation() {
	status, env := s.do(http.MethodPost, "/api/v1/tickets", s.adminToken, map[string]any{
		"investorId": "inv-1",
		"ticketType": "complaint",
	})
	s.Equal(http.StatusBadRequest, status)
	s.Require().NotNil(env.Error)
	s.Equal("oneof", env.Error.Details["ticketType"])
	s.Equal("required", env.Error.Details["subject"])
}

func (s *RouterSuite) TestUnknownTicketIsNotFound() {
	status, env := s.do(http.MethodGet, "/api/v1/tickets/does-not-exist", s.adminToken, nil)
	s.Equal(http.StatusNotFound, status)
	s.Equal("NOT_FOUND", env.Error.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	metrics := observability.NewMetrics()
	metrics.RecordTransition("ticket", "created")

	app := fiber.New()
	RegisterRoutes(app, RouteConfig{Health: handlers.NewHealthHandler("svc", "v", nil, nil), Metrics: metrics.Handler()})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "workflow_transitions_total")
}
