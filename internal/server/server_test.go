package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/dealscope/dealscope/config"
	"github.com/dealscope/dealscope/internal/runtime"
	"github.com/dealscope/dealscope/internal/store"
)

func newTestServer(t *testing.T) (*Server, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cfg := &config.Config{
		Server: config.ServerConfig{Address: ":0", JWTSecret: "test-secret"},
		Queue:  config.QueueConfig{Stream: "article.discovered", Group: "dealscope-indexers"},
	}
	return New(cfg, Deps{Store: &store.Store{DB: db}}), mock
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("expected 200 ok, got %d %q", rec.Code, rec.Body.String())
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, tc := range []struct {
		method string
		target string
	}{
		{http.MethodGet, "/api/queries"},
		{http.MethodPost, "/api/ingest/run"},
		{http.MethodPost, "/api/report"},
	} {
		req := httptest.NewRequest(tc.method, tc.target, nil)
		rec := httptest.NewRecorder()
		srv.echo.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s %s: expected 401 got %d", tc.method, tc.target, rec.Code)
		}
		var envelope HTTPError
		if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
			t.Fatalf("%s %s: decode error envelope: %v", tc.method, tc.target, err)
		}
		if envelope.Error == "" {
			t.Fatalf("%s %s: expected an error message", tc.method, tc.target)
		}
	}
}

func TestQueriesWithBearerToken(t *testing.T) {
	srv, mock := newTestServer(t)

	mock.ExpectQuery(`SELECT id, COALESCE\(user_id::text, ''\), question, route, answer, duration_ms, created_at`).
		WithArgs(20).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "question", "route", "answer", "duration_ms", "created_at"}))

	token, err := runtime.SignJWT("user-1", []byte("test-secret"), time.Hour)
	if err != nil {
		t.Fatalf("SignJWT: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/queries", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rec.Code, rec.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestStatusIsPublic(t *testing.T) {
	srv, mock := newTestServer(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\), COUNT\(last_indexed\) FROM ingest_ledger`).
		WillReturnRows(sqlmock.NewRows([]string{"count", "count"}).AddRow(3, 1))

	req := httptest.NewRequest(http.MethodGet, "/api/ingest/status", nil)
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rec.Code, rec.Body.String())
	}
	var resp IngestStatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Ledger.Total != 3 {
		t.Fatalf("unexpected ledger: %+v", resp.Ledger)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
