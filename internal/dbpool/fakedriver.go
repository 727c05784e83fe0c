package dbpool

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

// FakeDriverName is the database/sql driver name registered by this
// package's init for tests that need a Pool without a live MySQL
// instance. It understands exactly the two query shapes internal/auth
// issues against the "user" table: a SELECT by username and an INSERT
// of a new username/password pair.
const FakeDriverName = "fakemysql"

func init() {
	sql.Register(FakeDriverName, &fakeDriver{})
}

// fakeStore is the in-memory "user" table a fakeConn operates on.
// Stores are keyed by DSN so every connection opened against the same
// DSN shares one table, the way every connection pooled by database/sql
// against a real server shares the server's own state.
type fakeStore struct {
	mu    sync.Mutex
	users map[string]string // username -> password
}

var (
	fakeStoresMu sync.Mutex
	fakeStores   = map[string]*fakeStore{}
)

func storeFor(dsn string) *fakeStore {
	fakeStoresMu.Lock()
	defer fakeStoresMu.Unlock()
	s, ok := fakeStores[dsn]
	if !ok {
		s = &fakeStore{users: make(map[string]string)}
		fakeStores[dsn] = s
	}
	return s
}

// ResetFakeStore discards the in-memory table for dsn, so one test
// doesn't see rows a previous test with the same DSN left behind.
func ResetFakeStore(dsn string) {
	fakeStoresMu.Lock()
	defer fakeStoresMu.Unlock()
	delete(fakeStores, dsn)
}

type fakeDriver struct{}

func (fakeDriver) Open(dsn string) (driver.Conn, error) {
	return &fakeConn{store: storeFor(dsn)}, nil
}

type fakeConn struct {
	store *fakeStore
}

func (c *fakeConn) Prepare(query string) (driver.Stmt, error) {
	return &fakeStmt{store: c.store, query: query}, nil
}

func (c *fakeConn) Close() error { return nil }

func (c *fakeConn) Begin() (driver.Tx, error) {
	return nil, errors.New("dbpool: fake driver does not support transactions")
}

type fakeStmt struct {
	store *fakeStore
	query string
}

func (s *fakeStmt) Close() error { return nil }

// NumInput returns -1 to opt out of database/sql's argument-count
// check; both query shapes below take a fixed arity but there's no
// benefit to hand-counting placeholders for a driver that only ever
// serves two statements.
func (s *fakeStmt) NumInput() int { return -1 }

func (s *fakeStmt) Exec(args []driver.Value) (driver.Result, error) {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	if !strings.HasPrefix(s.query, "INSERT INTO user") {
		return nil, fmt.Errorf("dbpool: fake driver has no Exec handler for %q", s.query)
	}
	username, _ := args[0].(string)
	password, _ := args[1].(string)
	if _, exists := s.store.users[username]; exists {
		return nil, fmt.Errorf("dbpool: fake driver: duplicate entry for username %q", username)
	}
	s.store.users[username] = password
	return driver.RowsAffected(1), nil
}

func (s *fakeStmt) Query(args []driver.Value) (driver.Rows, error) {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	if !strings.HasPrefix(s.query, "SELECT password FROM user") {
		return nil, fmt.Errorf("dbpool: fake driver has no Query handler for %q", s.query)
	}
	username, _ := args[0].(string)
	password, ok := s.store.users[username]
	if !ok {
		return &fakeRows{}, nil
	}
	return &fakeRows{rows: [][]driver.Value{{password}}}, nil
}

// fakeRows implements driver.Rows over an in-memory slice of rows,
// each holding a single "password" column -- the only shape the
// SELECT statement above ever projects.
type fakeRows struct {
	rows [][]driver.Value
	pos  int
}

func (r *fakeRows) Columns() []string { return []string{"password"} }
func (r *fakeRows) Close() error      { return nil }

func (r *fakeRows) Next(dest []driver.Value) error {
	if r.pos >= len(r.rows) {
		return io.EOF
	}
	copy(dest, r.rows[r.pos])
	r.pos++
	return nil
}
