package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smallbiznis/gatemeter/internal/config"
	connectiondomain "github.com/smallbiznis/gatemeter/internal/connection/domain"
	"github.com/smallbiznis/gatemeter/internal/gateway"
	usagedomain "github.com/smallbiznis/gatemeter/internal/usage/domain"
)

type stubUsageService struct {
	lastTenantID snowflake.ID
	lastRaw      []byte
	ingestResult *usagedomain.IngestResult
	ingestErr    error
}

func (s *stubUsageService) Ingest(ctx context.Context, tenantID snowflake.ID, raw []byte) (*usagedomain.IngestResult, error) {
	s.lastTenantID = tenantID
	s.lastRaw = raw
	if s.ingestErr != nil {
		return nil, s.ingestErr
	}
	return s.ingestResult, nil
}

func (s *stubUsageService) List(ctx context.Context, req usagedomain.ListUsageRequest) (usagedomain.ListUsageResponse, error) {
	return usagedomain.ListUsageResponse{}, nil
}

func (s *stubUsageService) ResolvePending(ctx context.Context, tenantID snowflake.ID) (*usagedomain.ResolveOutcome, error) {
	return &usagedomain.ResolveOutcome{}, nil
}

type stubConnectionService struct {
	testErr error
}

func (s *stubConnectionService) Connect(ctx context.Context, req connectiondomain.ConnectRequest) (*connectiondomain.TenantConnection, error) {
	return nil, connectiondomain.ErrConnectionNotFound
}
func (s *stubConnectionService) Test(ctx context.Context, tenantID snowflake.ID) error {
	return s.testErr
}
func (s *stubConnectionService) Disconnect(ctx context.Context, tenantID snowflake.ID) error {
	return nil
}
func (s *stubConnectionService) Get(ctx context.Context, tenantID snowflake.ID) (*connectiondomain.TenantConnection, error) {
	return nil, connectiondomain.ErrConnectionNotFound
}
func (s *stubConnectionService) ListConnected(ctx context.Context) ([]*connectiondomain.TenantConnection, error) {
	return nil, nil
}
func (s *stubConnectionService) ClientFor(ctx context.Context, tenantID snowflake.ID) (gateway.Client, *connectiondomain.TenantConnection, error) {
	return nil, nil, connectiondomain.ErrConnectionNotFound
}
func (s *stubConnectionService) MarkSynced(ctx context.Context, tenantID snowflake.ID, at time.Time) error {
	return nil
}

func newTestServer(t *testing.T, usage usagedomain.Service) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	engine := NewEngine(zap.NewNop())
	return &Server{
		engine:   engine,
		cfg:      config.Config{},
		log:      zap.NewNop(),
		usageSvc: usage,
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t, &stubUsageService{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	srv.Engine().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestRequestIDEchoedAndGenerated(t *testing.T) {
	srv := newTestServer(t, &stubUsageService{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-Id", "req-123")
	srv.Engine().ServeHTTP(rec, req)
	assert.Equal(t, "req-123", rec.Header().Get("X-Request-Id"))

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	srv.Engine().ServeHTTP(rec, req)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestIngestUsageRoutesToService(t *testing.T) {
	stub := &stubUsageService{
		ingestResult: &usagedomain.IngestResult{Accepted: 2, Duplicates: 1},
	}
	srv := newTestServer(t, stub)
	srv.registerWebhookRoutes()

	node, err := snowflake.NewNode(9)
	require.NoError(t, err)
	tenantID := node.Generate()

	payload := `[{"request":{"id":"a"}},{"request":{"id":"b"}}]`
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/usage/"+tenantID.String(), strings.NewReader(payload))
	srv.Engine().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, tenantID, stub.lastTenantID)
	assert.JSONEq(t, `{"accepted":2,"duplicates":1,"dropped":0,"failed":0}`, rec.Body.String())
}

func TestIngestUsageRejectsMalformedPayload(t *testing.T) {
	stub := &stubUsageService{ingestErr: usagedomain.ErrMalformedPayload}
	srv := newTestServer(t, stub)
	srv.registerWebhookRoutes()

	node, err := snowflake.NewNode(9)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/usage/"+node.Generate().String(), strings.NewReader(`{"truncated`))
	srv.Engine().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_request")
}

func TestConnectionProbeReturnsStructuredStatus(t *testing.T) {
	conns := &stubConnectionService{}
	srv := newTestServer(t, &stubUsageService{})
	srv.connectionSvc = conns
	srv.registerAPIRoutes()

	node, err := snowflake.NewNode(9)
	require.NoError(t, err)
	url := "/api/v1/tenants/" + node.Generate().String() + "/connection/test"

	rec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, url, nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"connected"`)

	// An unreachable gateway is reported as a failed probe, not a 502.
	conns.testErr = &gateway.StatusError{Status: 503, Body: "upstream down"}
	rec = httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, url, nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"failed"`)

	// Lookup errors still map through the error taxonomy.
	conns.testErr = connectiondomain.ErrConnectionNotFound
	rec = httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, url, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestIngestUsageRejectsBadTenantID(t *testing.T) {
	stub := &stubUsageService{}
	srv := newTestServer(t, stub)
	srv.registerWebhookRoutes()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/usage/not-a-snowflake", strings.NewReader(`{}`))
	srv.Engine().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Nil(t, stub.lastRaw, "service must not be called")
}
