package store

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func TestClaimIdempotency(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	query := regexp.QuoteMeta(`INSERT INTO idempotency_keys (scope, key) VALUES ($1,$2) ON CONFLICT DO NOTHING RETURNING true`)

	mock.ExpectQuery(query).
		WithArgs("worker", "evt-1").
		WillReturnRows(sqlmock.NewRows([]string{"bool"}).AddRow(true))
	mock.ExpectQuery(query).
		WithArgs("worker", "evt-1").
		WillReturnRows(sqlmock.NewRows([]string{"bool"}))

	if ok, err := st.ClaimIdempotency(context.Background(), "worker", "evt-1"); err != nil || !ok {
		t.Fatalf("first claim: ok=%v err=%v", ok, err)
	}
	if ok, err := st.ClaimIdempotency(context.Background(), "worker", "evt-1"); err != nil || ok {
		t.Fatalf("second claim: ok=%v err=%v", ok, err)
	}
	if _, err := st.ClaimIdempotency(context.Background(), "", "evt-1"); err == nil {
		t.Fatalf("expected error for empty scope")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpsertAndGetCheckpoint(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	upsert := regexp.QuoteMeta(`
INSERT INTO job_checkpoints (job, status, position, payload, retries, updated_at)
VALUES ($1,$2,$3,$4,$5,NOW())
ON CONFLICT (job) DO UPDATE SET
  status     = EXCLUDED.status,
  position   = EXCLUDED.position,
  payload    = EXCLUDED.payload,
  retries    = EXCLUDED.retries,
  updated_at = NOW();
`)
	mock.ExpectExec(upsert).
		WithArgs("graph-extract", CheckpointStatusRunning, 42, sqlmock.AnyArg(), 0).
		WillReturnResult(sqlmock.NewResult(0, 1))

	cp := Checkpoint{
		Job:      "graph-extract",
		Status:   CheckpointStatusRunning,
		Position: 42,
		Payload:  map[string]interface{}{"last_url": "https://example.com/deal"},
	}
	if err := st.UpsertCheckpoint(context.Background(), cp); err != nil {
		t.Fatalf("UpsertCheckpoint: %v", err)
	}
	if err := st.UpsertCheckpoint(context.Background(), Checkpoint{}); err == nil {
		t.Fatalf("expected error for missing job name")
	}

	mock.ExpectQuery(`SELECT job, status, position, payload, retries, updated_at`).
		WithArgs("graph-extract").
		WillReturnRows(sqlmock.NewRows([]string{"job", "status", "position", "payload", "retries", "updated_at"}).
			AddRow("graph-extract", CheckpointStatusRunning, 42, []byte(`{"last_url":"https://example.com/deal"}`), 0, time.Now()))

	got, ok, err := st.GetCheckpoint(context.Background(), "graph-extract")
	if err != nil || !ok {
		t.Fatalf("GetCheckpoint: ok=%v err=%v", ok, err)
	}
	if got.Position != 42 {
		t.Fatalf("position = %d, want 42", got.Position)
	}
	if got.Payload["last_url"] != "https://example.com/deal" {
		t.Fatalf("unexpected payload: %#v", got.Payload)
	}

	mock.ExpectQuery(`SELECT job, status, position, payload, retries, updated_at`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"job", "status", "position", "payload", "retries", "updated_at"}))

	if _, ok, err := st.GetCheckpoint(context.Background(), "missing"); err != nil || ok {
		t.Fatalf("missing checkpoint: ok=%v err=%v", ok, err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestLogQuery(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	mock.ExpectExec(`INSERT INTO query_log`).
		WithArgs(sqlmock.AnyArg(), "Who acquired Activision?", "semantic", "Microsoft.", 1500).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := st.LogQuery(context.Background(), "", "Who acquired Activision?", "semantic", "Microsoft.", 1500*time.Millisecond); err != nil {
		t.Fatalf("LogQuery: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
