package webhook

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kopakash/loanbot/internal/loan"
	"github.com/kopakash/loanbot/internal/payhero"
	"github.com/kopakash/loanbot/internal/payment"
)

type MockObserver struct {
	mock.Mock
}

func (m *MockObserver) Submit(ctx context.Context, obs payment.Observation) {
	m.Called(ctx, obs)
}

func newObserver(t *testing.T) *MockObserver {
	t.Helper()
	obs := &MockObserver{}
	t.Cleanup(func() { obs.AssertExpectations(t) })
	return obs
}

func post(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCallbackSubmitsObservation(t *testing.T) {
	obs := newObserver(t)
	obs.On("Submit", mock.Anything, mock.MatchedBy(func(o payment.Observation) bool {
		return o.Reference == "KOP-42-1" && o.Status == loan.PaymentConfirmed
	})).Once()
	srv := New(Options{CallbackPath: "/payhero-callback"}, obs, payhero.ParseCallback)

	rec := post(t, srv.Handler(), "/payhero-callback", `{"external_reference":"KOP-42-1","status":"success","transaction_id":"QKL1"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"accepted"}`, rec.Body.String())
	_, err := uuid.Parse(rec.Header().Get("X-Request-ID"))
	assert.NoError(t, err)
}

func TestCallbackAcknowledgesGarbage(t *testing.T) {
	obs := newObserver(t)
	srv := New(Options{}, obs, payhero.ParseCallback)

	rec := post(t, srv.Handler(), "/payhero-callback", `{"hello":"world"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ignored"}`, rec.Body.String())
	obs.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything)
}

func TestHealthAndMetrics(t *testing.T) {
	srv := New(Options{}, newObserver(t), payhero.ParseCallback)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	post(t, srv.Handler(), "/payhero-callback", `{}`)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "loanbot_webhook_callbacks_total")
}

func TestCallbackRejectsGet(t *testing.T) {
	srv := New(Options{}, newObserver(t), payhero.ParseCallback)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/payhero-callback", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServeStopsOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := New(Options{ShutdownTimeout: time.Second}, newObserver(t), payhero.ParseCallback)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
	assert.Equal(t, "webhook", srv.Name())
}
