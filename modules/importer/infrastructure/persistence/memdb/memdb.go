// Package memdb is an in-memory stand-in for the import tables. It speaks
// exactly the statements declared in the persistence package and mimics
// the transaction and savepoint semantics of pgx, which is enough to run
// whole import batches in unit tests.
package memdb

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/iota-uz/exam-scheduler/modules/importer/infrastructure/persistence"
)

// Pseudo statements for transaction control, usable with Inject.
var (
	Begin             = persistence.Statement{Name: "begin", SQL: "BEGIN"}
	Savepoint         = persistence.Statement{Name: "savepoint", SQL: "SAVEPOINT"}
	ReleaseSavepoint  = persistence.Statement{Name: "release savepoint", SQL: "RELEASE SAVEPOINT"}
	RollbackSavepoint = persistence.Statement{Name: "rollback to savepoint", SQL: "ROLLBACK TO SAVEPOINT"}
	Commit            = persistence.Statement{Name: "commit", SQL: "COMMIT"}
	Rollback          = persistence.Statement{Name: "rollback", SQL: "ROLLBACK"}
)

// Record is one stored row. Every record carries an int64 "id".
type Record map[string]any

// Tables holds the stored rows.
type Tables struct {
	nextID  int64
	data    map[string][]Record
	applied map[int]bool
}

func newTables() *Tables {
	return &Tables{data: map[string][]Record{}, applied: map[int]bool{}}
}

// Insert stores rec under a fresh id and returns it.
func (t *Tables) Insert(table string, rec Record) int64 {
	t.nextID++
	stored := make(Record, len(rec)+1)
	for k, v := range rec {
		stored[k] = v
	}
	stored["id"] = t.nextID
	t.data[table] = append(t.data[table], stored)
	return t.nextID
}

func (t *Tables) find(table string, match func(Record) bool) (Record, bool) {
	rows := append([]Record(nil), t.data[table]...)
	sort.Slice(rows, func(i, j int) bool { return rows[i]["id"].(int64) < rows[j]["id"].(int64) })
	for _, r := range rows {
		if match(r) {
			return r, true
		}
	}
	return nil, false
}

func (t *Tables) exists(table string, id any) bool {
	want := toInt64(id)
	_, ok := t.find(table, func(r Record) bool { return r["id"].(int64) == want })
	return ok
}

func (t *Tables) clone() *Tables {
	out := &Tables{nextID: t.nextID, data: make(map[string][]Record, len(t.data)), applied: make(map[int]bool, len(t.applied))}
	for k, v := range t.applied {
		out.applied[k] = v
	}
	for name, rows := range t.data {
		copied := make([]Record, len(rows))
		for i, r := range rows {
			rec := make(Record, len(r))
			for k, v := range r {
				rec[k] = v
			}
			copied[i] = rec
		}
		out.data[name] = copied
	}
	return out
}

// Fault makes a statement fail.
type Fault struct {
	Statement persistence.Statement
	// Match restricts the fault to calls whose arguments it accepts.
	Match func(args []any) bool
	Err   error
	// Times bounds how often the fault fires; zero means always.
	Times int
	// Concurrent simulates another session committing writes right before
	// Err is returned. Those writes survive rollbacks.
	Concurrent func(t *Tables)

	fired int
}

type DB struct {
	mu       sync.Mutex
	tables   *Tables
	faults   []*Fault
	external []func(*Tables)
	calls    map[string]int
}

func New() *DB {
	return &DB{tables: newTables(), calls: map[string]int{}}
}

// Seed inserts rows directly, outside any transaction.
func (db *DB) Seed(table string, rec Record) int64 {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.tables.Insert(table, rec)
}

// Rows returns a copy of the committed and in-flight rows of table,
// ordered by id.
func (db *DB) Rows(table string) []Record {
	db.mu.Lock()
	defer db.mu.Unlock()
	rows := db.tables.clone().data[table]
	sort.Slice(rows, func(i, j int) bool { return rows[i]["id"].(int64) < rows[j]["id"].(int64) })
	return rows
}

func (db *DB) Count(table string) int {
	return len(db.Rows(table))
}

func (db *DB) Inject(f *Fault) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.faults = append(db.faults, f)
}

// Calls reports how many times stmt was executed.
func (db *DB) Calls(stmt persistence.Statement) int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.calls[stmt.SQL]
}

// Begin starts a top-level transaction.
func (db *DB) Begin(ctx context.Context) (pgx.Tx, error) {
	if err := db.control(ctx, Begin); err != nil {
		return nil, err
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	return &Tx{db: db, snapshot: db.tables.clone()}, nil
}

func (db *DB) control(ctx context.Context, stmt persistence.Statement) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	db.calls[stmt.SQL]++
	return db.fault(stmt.SQL, nil)
}

// fault must be called with mu held.
func (db *DB) fault(sql string, args []any) error {
	for _, f := range db.faults {
		if f.Statement.SQL != sql {
			continue
		}
		if f.Times > 0 && f.fired >= f.Times {
			continue
		}
		if f.Match != nil && !f.Match(args) {
			continue
		}
		f.fired++
		if f.Concurrent != nil {
			db.external = append(db.external, f.Concurrent)
			db.replayExternal(db.tables)
		}
		return f.Err
	}
	return nil
}

// replayExternal must be called with mu held.
func (db *DB) replayExternal(t *Tables) {
	for i, fn := range db.external {
		if t.applied[i] {
			continue
		}
		fn(t)
		t.applied[i] = true
	}
}

type result struct {
	rows [][]any
	tag  string
	err  error
}

func (db *DB) run(ctx context.Context, sql string, args []any) result {
	if err := ctx.Err(); err != nil {
		return result{err: err}
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	db.calls[sql]++
	if err := db.fault(sql, args); err != nil {
		return result{err: err}
	}
	h, ok := handlers[sql]
	if !ok {
		return result{err: fmt.Errorf("memdb: unsupported statement %q", sql)}
	}
	return h(db.tables, args)
}

// Tx implements the subset of pgx.Tx the importer uses. Calling any other
// method panics.
type Tx struct {
	pgx.Tx

	db        *DB
	snapshot  *Tables
	savepoint bool
	done      bool
}

func (tx *Tx) Begin(ctx context.Context) (pgx.Tx, error) {
	if tx.done {
		return nil, pgx.ErrTxClosed
	}
	if err := tx.db.control(ctx, Savepoint); err != nil {
		return nil, err
	}
	tx.db.mu.Lock()
	defer tx.db.mu.Unlock()
	return &Tx{db: tx.db, snapshot: tx.db.tables.clone(), savepoint: true}, nil
}

func (tx *Tx) Commit(ctx context.Context) error {
	if tx.done {
		return pgx.ErrTxClosed
	}
	stmt := Commit
	if tx.savepoint {
		stmt = ReleaseSavepoint
	}
	if err := tx.db.control(ctx, stmt); err != nil {
		return err
	}
	tx.done = true
	return nil
}

func (tx *Tx) Rollback(ctx context.Context) error {
	if tx.done {
		return pgx.ErrTxClosed
	}
	stmt := Rollback
	if tx.savepoint {
		stmt = RollbackSavepoint
	}
	err := tx.db.control(ctx, stmt)
	if err != nil && ctx.Err() == nil {
		return err
	}
	// A dropped connection still discards the server-side work.
	tx.db.mu.Lock()
	tx.db.tables = tx.snapshot
	tx.db.replayExternal(tx.db.tables)
	tx.db.mu.Unlock()
	tx.done = true
	return err
}

func (tx *Tx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if tx.done {
		return pgconn.CommandTag{}, pgx.ErrTxClosed
	}
	res := tx.db.run(ctx, sql, args)
	if res.err != nil {
		return pgconn.CommandTag{}, res.err
	}
	return pgconn.NewCommandTag(res.tag), nil
}

func (tx *Tx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if tx.done {
		return &row{err: pgx.ErrTxClosed}
	}
	res := tx.db.run(ctx, sql, args)
	r := &row{err: res.err}
	if len(res.rows) > 0 {
		r.values = res.rows[0]
	}
	return r
}

type row struct {
	values []any
	err    error
}

func (r *row) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if r.values == nil {
		return pgx.ErrNoRows
	}
	if len(dest) != len(r.values) {
		return fmt.Errorf("memdb: scan expects %d destinations, got %d", len(r.values), len(dest))
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *int64:
			*p = toInt64(r.values[i])
		case *string:
			*p = toString(r.values[i])
		default:
			return fmt.Errorf("memdb: unsupported scan destination %T", d)
		}
	}
	return nil
}
