package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promora/beacon/internal/config"
	"github.com/promora/beacon/internal/domain"
	"github.com/promora/beacon/internal/realtime"
)

const testAPIToken = "0123456789abcdef"

// fakeAppService records publishes and issues canned tickets.
type fakeAppService struct {
	mu        sync.Mutex
	published []domain.JobProgressEvent
	issueErr  error
}

func (f *fakeAppService) IssueTicket(_ context.Context, userID, ownerClientID string, ttl time.Duration) (*domain.Ticket, error) {
	if f.issueErr != nil {
		return nil, f.issueErr
	}
	return &domain.Ticket{
		Token:         "ticket-token-1",
		OwnerUserID:   userID,
		OwnerClientID: ownerClientID,
		ExpiresAt:     time.Now().Add(ttl),
	}, nil
}

func (f *fakeAppService) PublishJobProgress(_ context.Context, event domain.JobProgressEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, event)
}

func (f *fakeAppService) publishedEvents() []domain.JobProgressEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.JobProgressEvent(nil), f.published...)
}

func testServer(t *testing.T, mutate func(*config.Config)) (*Server, *fakeAppService, *httptest.Server) {
	t.Helper()

	cfg := &config.Config{
		AppEnv:                  "test",
		Port:                    "0",
		APIToken:                testAPIToken,
		AuthRequired:            true,
		AuthGracePeriod:         30 * time.Second,
		ClientTimeout:           2 * time.Minute,
		PingInterval:            30 * time.Second,
		SweepInterval:           time.Minute,
		MaxWebSocketConnections: 100,
		MaxConnectionsPerIP:     8,
		ConnectionRatePerIP:     1000,
		SendBufferSize:          16,
		TicketDefaultTTL:        5 * time.Minute,
	}
	if mutate != nil {
		mutate(cfg)
	}

	hub := realtime.NewHub(realtime.Options{
		AuthRequired:    cfg.AuthRequired,
		AuthGracePeriod: cfg.AuthGracePeriod,
		ClientTimeout:   cfg.ClientTimeout,
		PingInterval:    cfg.PingInterval,
		SweepInterval:   cfg.SweepInterval,
		SendBufferSize:  cfg.SendBufferSize,
	}, nil, clockwork.NewRealClock())
	t.Cleanup(hub.Stop)

	app := &fakeAppService{}
	srv := NewServer(cfg, hub, app, nil, nil)

	ts := httptest.NewServer(srv.echo)
	t.Cleanup(ts.Close)

	return srv, app, ts
}

func doJSON(t *testing.T, method, url, token string, body any) *http.Response {
	t.Helper()

	var reader *strings.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = strings.NewReader(string(data))
	} else {
		reader = strings.NewReader("")
	}

	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestAPIToken_Required(t *testing.T) {
	_, _, ts := testServer(t, nil)

	event := domain.JobProgressEvent{JobID: "j1", OwnerClientID: "c1", Status: domain.JobPending}

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/v1/progress", "", event)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, ts.URL+"/api/v1/progress", "wrong-token-wrong", event)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, ts.URL+"/api/v1/progress", testAPIToken, event)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestPublishProgress(t *testing.T) {
	_, app, ts := testServer(t, nil)

	event := domain.JobProgressEvent{
		JobID:         "job-42",
		Service:       "video_generation",
		Status:        domain.JobProcessing,
		Progress:      55,
		OwnerClientID: "client-a",
	}
	resp := doJSON(t, http.MethodPost, ts.URL+"/api/v1/progress", testAPIToken, event)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	published := app.publishedEvents()
	require.Len(t, published, 1)
	assert.Equal(t, event, published[0])
}

func TestPublishProgress_Validation(t *testing.T) {
	_, app, ts := testServer(t, nil)

	tests := []struct {
		name  string
		event domain.JobProgressEvent
	}{
		{"missing job id", domain.JobProgressEvent{OwnerClientID: "c1", Status: domain.JobPending}},
		{"missing owner client id", domain.JobProgressEvent{JobID: "j1", Status: domain.JobPending}},
		{"unknown status", domain.JobProgressEvent{JobID: "j1", OwnerClientID: "c1", Status: "exploded"}},
		{"progress out of range", domain.JobProgressEvent{JobID: "j1", OwnerClientID: "c1", Status: domain.JobPending, Progress: 150}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doJSON(t, http.MethodPost, ts.URL+"/api/v1/progress", testAPIToken, tt.event)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
	assert.Empty(t, app.publishedEvents())
}

func TestIssueTicket(t *testing.T) {
	_, _, ts := testServer(t, nil)

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/v1/tickets", testAPIToken, issueTicketRequest{
		UserID:        "user-7",
		OwnerClientID: "client-a",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var out issueTicketResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "ticket-token-1", out.Token)
	assert.False(t, out.ExpiresAt.IsZero())
}

func TestIssueTicket_Validation(t *testing.T) {
	_, _, ts := testServer(t, nil)

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/v1/tickets", testAPIToken, issueTicketRequest{UserID: "user-7"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLiveness(t *testing.T) {
	_, _, ts := testServer(t, nil)

	resp, err := http.Get(ts.URL + "/health/live")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestWebSocket_UpgradeAndHello(t *testing.T) {
	_, _, ts := testServer(t, nil)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?token=tok-1"
	conn, _, err := ws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var frame struct {
		Type    string `json:"type"`
		Payload struct {
			ConnectionID string `json:"connectionId"`
			RequiresAuth bool   `json:"requiresAuth"`
		} `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(data, &frame))
	assert.Equal(t, "connection", frame.Type)
	assert.True(t, frame.Payload.RequiresAuth)
	assert.NotEmpty(t, frame.Payload.ConnectionID)
}

func TestWebSocket_PerIPLimit(t *testing.T) {
	srv, _, ts := testServer(t, func(c *config.Config) {
		c.MaxConnectionsPerIP = 1
	})

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	first, _, err := ws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer first.Close()

	_, resp, err := ws.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, 1, srv.perIP.UniqueIPs())
}

func TestWebSocket_GlobalLimit(t *testing.T) {
	_, _, ts := testServer(t, func(c *config.Config) {
		c.MaxWebSocketConnections = 1
	})

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	first, _, err := ws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer first.Close()

	_, resp, err := ws.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
