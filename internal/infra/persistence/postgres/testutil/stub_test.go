package testutil

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
)

const ddl = `CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload JSONB NOT NULL
	)`

func upsert(ctx context.Context, db *sql.DB, bucket string, payload []byte) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, stmtUpsert, bucket, payload); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func TestStateTableRequiresDDL(t *testing.T) {
	ctx := context.Background()
	db, _ := NewStubDB()
	if _, err := db.QueryContext(ctx, stmtSelect); err == nil || !strings.Contains(err.Error(), "does not exist") {
		t.Fatalf("expected missing relation, got %v", err)
	}
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		t.Fatalf("ddl: %v", err)
	}
	if _, err := db.ExecContext(ctx, "TRUNCATE state"); err == nil {
		t.Fatalf("expected unexpected statement error")
	}
}

func TestUpsertValidatesBucketsAndPayloads(t *testing.T) {
	ctx := context.Background()
	db, conn := NewStubDB()
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		t.Fatalf("ddl: %v", err)
	}
	cases := []struct {
		bucket  string
		payload string
		ok      bool
	}{
		{"node_status", `[{"node":"a"}]`, true},
		{"node_status", `{"node":"a"}`, false},
		{"catalog/tas.historical", `{"datasets":[]}`, true},
		{"catalog/", `{}`, false},
		{"catalog/a/b", `{}`, false},
		{"nodes", `[]`, false},
		{"catalog/x", `not json`, false},
	}
	for _, c := range cases {
		err := upsert(ctx, db, c.bucket, []byte(c.payload))
		if (err == nil) != c.ok {
			t.Fatalf("upsert %s %s: err=%v want ok=%v", c.bucket, c.payload, err, c.ok)
		}
	}
	if got := strings.Join(conn.Buckets(), ","); got != "catalog/tas.historical,node_status" {
		t.Fatalf("unexpected buckets %s", got)
	}
	if _, err := db.ExecContext(ctx, stmtUpsert, "catalog/y", []byte(`{}`)); err == nil {
		t.Fatalf("expected upsert outside a transaction to fail")
	}
}

func TestUpsertVisibleOnlyAfterCommit(t *testing.T) {
	ctx := context.Background()
	db, conn := NewStubDB()
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		t.Fatalf("ddl: %v", err)
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := tx.ExecContext(ctx, stmtUpsert, "catalog/a", []byte(`{"v":1}`)); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, ok := conn.Payload("catalog/a"); ok {
		t.Fatalf("uncommitted row is visible")
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if _, ok := conn.Payload("catalog/a"); ok {
		t.Fatalf("rolled back row is visible")
	}

	conn.FailCommit = true
	if err := upsert(ctx, db, "catalog/a", []byte(`{"v":2}`)); !errors.Is(err, ErrCommit) {
		t.Fatalf("expected commit failure, got %v", err)
	}
	conn.FailCommit = false
	if len(conn.Buckets()) != 0 {
		t.Fatalf("failed commit left rows %v", conn.Buckets())
	}

	for _, v := range []string{`{"v":3}`, `{"v":4}`} {
		if err := upsert(ctx, db, "catalog/a", []byte(v)); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	if p, _ := conn.Payload("catalog/a"); string(p) != `{"v":4}` {
		t.Fatalf("upsert should replace the row, got %s", p)
	}

	rows, err := db.QueryContext(ctx, stmtSelect)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	var n int
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			t.Fatalf("scan: %v", err)
		}
		n++
	}
	_ = rows.Close()
	if n != 1 {
		t.Fatalf("select returned %d rows", n)
	}

	res, err := db.ExecContext(ctx, stmtDelete, "catalog/a")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n, _ := res.RowsAffected(); n != 1 || len(conn.Buckets()) != 0 {
		t.Fatalf("delete affected %d rows, left %v", n, conn.Buckets())
	}
}
