package web

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"conclave/internal/config"
	"conclave/internal/engine"
	"conclave/internal/gateway"
	"conclave/internal/protocol"
	"conclave/internal/roster"
	"github.com/stretchr/testify/require"
)

type staticGateway struct{}

func (staticGateway) Invoke(_ context.Context, req gateway.Request) (*gateway.Reply, error) {
	return &gateway.Reply{Text: "ok"}, nil
}

func testServer(t *testing.T, auth string) (*Server, *http.ServeMux) {
	t.Helper()
	reg, err := protocol.NewRegistry()
	require.NoError(t, err)

	ros := roster.Roster{
		{Key: "analyst", Name: "Analyst", Role: "You analyze."},
		{Key: "skeptic", Name: "Skeptic", Role: "You doubt."},
		{Key: "builder", Name: "Builder", Role: "You construct."},
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	exec := engine.NewExecutor(staticGateway{}, 4, time.Second, log)
	coord := engine.NewCoordinator(config.EngineConfig{
		MaxConcurrentCalls: 4, CallTimeout: time.Second, DefaultRounds: 3, MaxRounds: 10,
	}, reg, ros, exec, nil, log)

	srv := NewServer(coord, nil, reg, ros, config.WebConfig{Auth: auth}, "test")
	mux := http.NewServeMux()
	srv.registerAPI(mux)
	return srv, mux
}

func TestListProtocols(t *testing.T) {
	_, mux := testServer(t, "")

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/api/protocols", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	for _, id := range []string{"debate", "borda", "vickrey", "delphi", "ach", "causal-loop", "ecocycle", "parallel-synthesis"} {
		require.Contains(t, body, `"`+id+`"`)
	}
}

func TestCreateRunValidation(t *testing.T) {
	_, mux := testServer(t, "")

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("POST", "/api/runs",
		strings.NewReader(`{"protocol_id":"unknown","question":"q"}`)))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("POST", "/api/runs",
		strings.NewReader(`{"protocol_id":"debate","question":"q","workers":["analyst"]}`)))
	require.Equal(t, http.StatusBadRequest, rec.Code, "roster below minimum must be rejected")

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("POST", "/api/runs",
		strings.NewReader(`{"protocol_id":"parallel-synthesis","question":"what next?"}`)))
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Contains(t, rec.Body.String(), "run_id")
}

func TestGetRunNotFound(t *testing.T) {
	_, mux := testServer(t, "")

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/api/runs/ghost", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelInactiveRun(t *testing.T) {
	_, mux := testServer(t, "")

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("POST", "/api/runs/ghost/cancel", nil))
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestAuthMiddleware(t *testing.T) {
	srv, mux := testServer(t, "sekrit")
	handler := srv.withMiddleware(mux)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/protocols", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest("GET", "/api/protocols", nil)
	req.Header.Set("Authorization", "Bearer sekrit")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest("GET", "/api/protocols", nil)
	req.SetBasicAuth("any", "sekrit")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/protocols?token=sekrit", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestStatusEndpoint(t *testing.T) {
	_, mux := testServer(t, "")

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/api/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"protocols":8`)
}

func TestListWorkers(t *testing.T) {
	_, mux := testServer(t, "")

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/api/workers", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "skeptic")
}
