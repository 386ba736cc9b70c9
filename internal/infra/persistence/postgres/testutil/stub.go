// Package testutil provides a fake database/sql driver that stands in for
// the postgres state table. It accepts only the statements the store issues
// and rejects rows the store should never write: unknown bucket names and
// payloads that are not JSON.
package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"cmip6cat/internal/infra/persistence/memory"
)

// Statements issued by the postgres store, after whitespace is collapsed.
const (
	stmtSelect = "SELECT bucket, payload FROM state"
	stmtUpsert = "INSERT INTO state(bucket,payload) VALUES($1,$2) ON CONFLICT(bucket) DO UPDATE SET payload=EXCLUDED.payload"
	stmtDelete = "DELETE FROM state WHERE bucket=$1"
	ddlPrefix  = "CREATE TABLE IF NOT EXISTS state ("
)

// Injected failures.
var (
	ErrPing   = errors.New("ping failed")
	ErrBegin  = errors.New("begin failed")
	ErrUpsert = errors.New("upsert failed")
	ErrCommit = errors.New("commit failed")
)

var driverSeq atomic.Int64

// StateConn is the fake connection. Upserts inside a transaction become
// visible only on commit.
type StateConn struct {
	mu         sync.Mutex
	Statements []string
	buckets    map[string][]byte
	pending    map[string][]byte
	tableReady bool

	FailPing   bool
	FailBegin  bool
	FailUpsert bool
	FailCommit bool
	RowsErr    error
}

// NewStubDB registers a fresh driver and returns a sql.DB bound to it.
func NewStubDB() (*sql.DB, *StateConn) {
	conn := &StateConn{buckets: make(map[string][]byte)}
	name := fmt.Sprintf("cmip6cat-state-%d", driverSeq.Add(1))
	sql.Register(name, stateDriver{conn: conn})
	db, err := sql.Open(name, "")
	if err != nil {
		panic(err)
	}
	return db, conn
}

// Payload returns the committed payload of bucket.
func (c *StateConn) Payload(bucket string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.buckets[bucket]
	return p, ok
}

// Buckets lists the committed bucket names in order.
func (c *StateConn) Buckets() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.buckets))
	for b := range c.buckets {
		out = append(out, b)
	}
	sort.Strings(out)
	return out
}

// Seed writes a committed row directly, bypassing validation.
func (c *StateConn) Seed(bucket string, payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buckets[bucket] = payload
}

type stateDriver struct{ conn *StateConn }

func (d stateDriver) Open(string) (driver.Conn, error) { return d.conn, nil }

// Prepare implements driver.Conn.
func (c *StateConn) Prepare(string) (driver.Stmt, error) {
	return nil, errors.New("prepared statements are not supported")
}

// Close implements driver.Conn.
func (c *StateConn) Close() error { return nil }

// Begin implements driver.Conn.
func (c *StateConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

// Ping implements driver.Pinger.
func (c *StateConn) Ping(context.Context) error {
	if c.FailPing {
		return ErrPing
	}
	return nil
}

// BeginTx implements driver.ConnBeginTx.
func (c *StateConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	if c.FailBegin {
		return nil, ErrBegin
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending != nil {
		return nil, errors.New("transaction already open")
	}
	c.pending = make(map[string][]byte)
	return stateTx{conn: c}, nil
}

// ExecContext implements driver.ExecerContext.
func (c *StateConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	stmt := normalize(query)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Statements = append(c.Statements, stmt)
	switch {
	case strings.HasPrefix(stmt, ddlPrefix):
		c.tableReady = true
		return driver.RowsAffected(0), nil
	case stmt == stmtUpsert:
		if err := c.ready(); err != nil {
			return nil, err
		}
		if c.FailUpsert {
			return nil, ErrUpsert
		}
		bucket, payload, err := upsertArgs(args)
		if err != nil {
			return nil, err
		}
		if c.pending == nil {
			return nil, errors.New("upsert outside a transaction")
		}
		c.pending[bucket] = payload
		return driver.RowsAffected(1), nil
	case stmt == stmtDelete:
		if err := c.ready(); err != nil {
			return nil, err
		}
		if len(args) != 1 {
			return nil, fmt.Errorf("delete wants 1 arg, got %d", len(args))
		}
		bucket, _ := args[0].Value.(string)
		if _, ok := c.buckets[bucket]; !ok {
			return driver.RowsAffected(0), nil
		}
		delete(c.buckets, bucket)
		return driver.RowsAffected(1), nil
	}
	return nil, fmt.Errorf("unexpected statement %q", stmt)
}

// QueryContext implements driver.QueryerContext.
func (c *StateConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	stmt := normalize(query)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Statements = append(c.Statements, stmt)
	if stmt != stmtSelect {
		return nil, fmt.Errorf("unexpected query %q", stmt)
	}
	if err := c.ready(); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(c.buckets))
	for b := range c.buckets {
		names = append(names, b)
	}
	sort.Strings(names)
	rows := &stateRows{err: c.RowsErr}
	for _, b := range names {
		rows.rows = append(rows.rows, [2]driver.Value{b, c.buckets[b]})
	}
	return rows, nil
}

func (c *StateConn) ready() error {
	if !c.tableReady {
		return errors.New(`relation "state" does not exist`)
	}
	return nil
}

type stateTx struct{ conn *StateConn }

func (t stateTx) Commit() error {
	c := t.conn
	c.mu.Lock()
	defer c.mu.Unlock()
	pending := c.pending
	c.pending = nil
	if c.FailCommit {
		return ErrCommit
	}
	for b, p := range pending {
		c.buckets[b] = p
	}
	return nil
}

func (t stateTx) Rollback() error {
	t.conn.mu.Lock()
	t.conn.pending = nil
	t.conn.mu.Unlock()
	return nil
}

type stateRows struct {
	rows [][2]driver.Value
	idx  int
	err  error
}

func (r *stateRows) Columns() []string { return []string{"bucket", "payload"} }
func (r *stateRows) Close() error      { return nil }

func (r *stateRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.rows) {
		if r.err != nil {
			return r.err
		}
		return io.EOF
	}
	dest[0], dest[1] = r.rows[r.idx][0], r.rows[r.idx][1]
	r.idx++
	return nil
}

// upsertArgs validates the bucket name and the payload of an upsert.
func upsertArgs(args []driver.NamedValue) (string, []byte, error) {
	if len(args) != 2 {
		return "", nil, fmt.Errorf("upsert wants 2 args, got %d", len(args))
	}
	bucket, ok := args[0].Value.(string)
	if !ok {
		return "", nil, fmt.Errorf("bucket is %T, want string", args[0].Value)
	}
	if err := checkBucket(bucket); err != nil {
		return "", nil, err
	}
	payload, ok := args[1].Value.([]byte)
	if !ok {
		return "", nil, fmt.Errorf("payload is %T, want []byte", args[1].Value)
	}
	if !json.Valid(payload) {
		return "", nil, fmt.Errorf("payload of %s is not JSON", bucket)
	}
	if bucket == memory.NodeStatusBucket && !isJSONArray(payload) {
		return "", nil, fmt.Errorf("payload of %s is not a JSON array", bucket)
	}
	return bucket, append([]byte(nil), payload...), nil
}

func checkBucket(bucket string) error {
	if bucket == memory.NodeStatusBucket {
		return nil
	}
	prefix := memory.CatalogBucket("")
	name, ok := strings.CutPrefix(bucket, prefix)
	if !ok || name == "" || strings.Contains(name, "/") {
		return fmt.Errorf("unexpected bucket %q", bucket)
	}
	return nil
}

func isJSONArray(payload []byte) bool {
	var v []json.RawMessage
	return json.Unmarshal(payload, &v) == nil
}

func normalize(query string) string {
	return strings.Join(strings.Fields(query), " ")
}
