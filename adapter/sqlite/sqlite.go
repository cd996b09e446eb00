// Package sqlite implements the stashkv storage contract over an embedded
// SQLite database (modernc.org/sqlite, no cgo).
//
// SQLite forbids concurrent statement execution on one connection, so each
// connected handle dedicates a single writer goroutine that owns the
// connection for the handle's lifetime; every operation — including schema
// creation and Close — is a closure submitted to that goroutine's queue.
// Callers get an ordinary concurrent-safe API, and all operations on one
// handle execute in a strict total order, which is what makes the
// upsert-then-LastInsertId pattern safe.
//
// Timestamps are stored as unix seconds. Reads filter expired rows at the
// query level, so an expired-but-unswept row is invisible even though it is
// physically present until the sweeper runs.
package sqlite

import (
	"context"
	"database/sql"
	"sort"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/unkn0wn-root/stashkv/adapter"
	"github.com/unkn0wn-root/stashkv/internal/sqlfrag"
)

// Config selects the database file and table for an adapter.
type Config struct {
	// Path is the database file. Empty or ":memory:" opens a private
	// in-memory database per connected handle; use a file path when
	// concurrent sessions must observe the same data.
	Path string
	// Table is the backing table name. Defaults to adapter.DefaultTable.
	Table string
}

// statements are assembled once per base adapter; only the IN(...) list of
// BatchGet depends on per-call shape.
type statements struct {
	create         string
	createIndex    string
	get            string
	set            string
	del            string
	exists         string
	keys           string
	setExpire      string
	getExpire      string
	sweep          string
	countExpired   string
	keysWithExpiry string
}

func buildStatements(table string) statements {
	tbl := sqlfrag.Ident(table)
	live := sqlfrag.SQL("(`expires_at` IS NULL OR `expires_at` > ?)")
	return statements{
		create: sqlfrag.Compose(
			sqlfrag.SQL("CREATE TABLE IF NOT EXISTS"), tbl,
			sqlfrag.SQL("("+
				"`id` INTEGER PRIMARY KEY AUTOINCREMENT, "+
				"`key` TEXT NOT NULL UNIQUE, "+
				"`value` BLOB NOT NULL, "+
				"`created_at` DATETIME NOT NULL DEFAULT (strftime('%s','now')), "+
				"`expires_at` DATETIME NULL, "+
				"`ttl` INTEGER NULL, "+
				"CHECK (`expires_at` IS NULL OR `expires_at` > `created_at`)"+
				")"),
		),
		createIndex: sqlfrag.Compose(
			sqlfrag.SQL("CREATE INDEX IF NOT EXISTS"), sqlfrag.Ident("idx_"+table+"_expires_at"),
			sqlfrag.SQL("ON"), tbl, sqlfrag.SQL("(`expires_at`)"),
		),
		get: sqlfrag.Compose(
			sqlfrag.SQL("SELECT `value` FROM"), tbl,
			sqlfrag.SQL("WHERE `key` = ? AND"), live,
		),
		set: sqlfrag.Compose(
			sqlfrag.SQL("INSERT INTO"), tbl,
			sqlfrag.SQL("(`key`, `value`, `created_at`) VALUES (?, ?, ?)"),
			sqlfrag.SQL("ON CONFLICT(`key`) DO UPDATE SET"),
			sqlfrag.SQL("`value` = excluded.`value`, `created_at` = excluded.`created_at`,"),
			sqlfrag.SQL("`expires_at` = CASE WHEN"), tbl, sqlfrag.SQL(".`ttl` IS NOT NULL"),
			sqlfrag.SQL("THEN excluded.`created_at` +"), tbl, sqlfrag.SQL(".`ttl` ELSE NULL END"),
		),
		del: sqlfrag.Compose(
			sqlfrag.SQL("DELETE FROM"), tbl, sqlfrag.SQL("WHERE `key` = ?"),
		),
		exists: sqlfrag.Compose(
			sqlfrag.SQL("SELECT 1 FROM"), tbl,
			sqlfrag.SQL("WHERE `key` = ? AND"), live,
		),
		keys: sqlfrag.Compose(
			sqlfrag.SQL("SELECT `key` FROM"), tbl, sqlfrag.SQL("WHERE"), live,
		),
		setExpire: sqlfrag.Compose(
			sqlfrag.SQL("UPDATE"), tbl,
			sqlfrag.SQL("SET `expires_at` = ?, `ttl` = ? WHERE `key` = ? AND"), live,
		),
		getExpire: sqlfrag.Compose(
			sqlfrag.SQL("SELECT `expires_at` FROM"), tbl,
			sqlfrag.SQL("WHERE `key` = ? AND `expires_at` IS NOT NULL AND `expires_at` > ?"),
		),
		sweep: sqlfrag.Compose(
			sqlfrag.SQL("DELETE FROM"), tbl,
			sqlfrag.SQL("WHERE `expires_at` IS NOT NULL AND `expires_at` <= ?"),
		),
		countExpired: sqlfrag.Compose(
			sqlfrag.SQL("SELECT COUNT(*) FROM"), tbl,
			sqlfrag.SQL("WHERE `expires_at` IS NOT NULL AND `expires_at` <= ?"),
		),
		keysWithExpiry: sqlfrag.Compose(
			sqlfrag.SQL("SELECT `key`, `expires_at` FROM"), tbl,
			sqlfrag.SQL("WHERE `expires_at` IS NOT NULL"),
		),
	}
}

// Adapter is the embedded-database backend. New returns an unconnected
// base; every Connect opens its own database connection with its own writer
// goroutine, so two concurrent sessions never share engine state.
type Adapter struct {
	cfg   Config
	stmts statements

	exec *executor
	// inTx is session-local by construction (one handle per logical
	// session); per the concurrency model it needs no lock.
	inTx   bool
	closed atomic.Bool
}

var _ adapter.Adapter = (*Adapter)(nil)

// New returns an unconnected SQLite adapter.
func New(cfg Config) *Adapter {
	if cfg.Table == "" {
		cfg.Table = adapter.DefaultTable
	}
	return &Adapter{cfg: cfg, stmts: buildStatements(cfg.Table)}
}

func (a *Adapter) Connect(ctx context.Context) (adapter.Adapter, error) {
	path := a.cfg.Path
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// Exactly one pooled connection; it is pinned below and handed to the
	// writer goroutine.
	db.SetMaxOpenConns(1)
	conn, err := db.Conn(ctx)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := conn.ExecContext(ctx, pragma); err != nil {
			_ = conn.Close()
			_ = db.Close()
			return nil, err
		}
	}
	h := &Adapter{cfg: a.cfg, stmts: a.stmts}
	h.exec = newExecutor(db, conn)
	return h, nil
}

func (a *Adapter) connected() bool {
	return a.exec != nil && !a.closed.Load()
}

// run submits fn to the handle's writer goroutine and waits. Statements use
// a background context on the worker so a caller abandoning the wait never
// poisons the pinned connection.
func run[T any](ctx context.Context, a *Adapter, fn func(conn *sql.Conn) (T, error)) (T, error) {
	var zero T
	if !a.connected() {
		return zero, adapter.ErrClosed
	}
	v, err := a.exec.submit(ctx, func(conn *sql.Conn) (any, error) {
		return fn(conn)
	})
	if err != nil {
		return zero, err
	}
	return v.(T), nil
}

func unixNow() int64 { return time.Now().Unix() }

func (a *Adapter) Create(ctx context.Context) error {
	_, err := run(ctx, a, func(conn *sql.Conn) (struct{}, error) {
		_, err := conn.ExecContext(context.Background(), a.stmts.create)
		return struct{}{}, err
	})
	return err
}

func (a *Adapter) CreateIndex(ctx context.Context) error {
	_, err := run(ctx, a, func(conn *sql.Conn) (struct{}, error) {
		_, err := conn.ExecContext(context.Background(), a.stmts.createIndex)
		return struct{}{}, err
	})
	return err
}

// Close waits for every queued operation, releases the engine connection,
// and joins the writer goroutine. It does not return until the goroutine
// has fully exited. Safe to call more than once.
func (a *Adapter) Close(context.Context) error {
	if a.exec == nil {
		return nil
	}
	if !a.closed.CompareAndSwap(false, true) {
		return nil
	}
	return a.exec.close()
}

func (a *Adapter) Get(ctx context.Context, key string) ([]byte, bool, error) {
	type row struct {
		value []byte
		ok    bool
	}
	r, err := run(ctx, a, func(conn *sql.Conn) (row, error) {
		var v []byte
		err := conn.QueryRowContext(context.Background(), a.stmts.get, key, unixNow()).Scan(&v)
		if err == sql.ErrNoRows {
			return row{}, nil
		}
		if err != nil {
			return row{}, err
		}
		return row{value: v, ok: true}, nil
	})
	if err != nil {
		return nil, false, err
	}
	return r.value, r.ok, nil
}

func (a *Adapter) Set(ctx context.Context, key string, value []byte) (int64, error) {
	return run(ctx, a, func(conn *sql.Conn) (int64, error) {
		res, err := conn.ExecContext(context.Background(), a.stmts.set, key, value, unixNow())
		if err != nil {
			return 0, err
		}
		return res.LastInsertId()
	})
}

func (a *Adapter) BatchGet(ctx context.Context, keys []string) (map[string][]byte, error) {
	if len(keys) == 0 {
		return map[string][]byte{}, nil
	}
	stmt := sqlfrag.Compose(
		sqlfrag.SQL("SELECT `key`, `value` FROM"), sqlfrag.Ident(a.cfg.Table),
		sqlfrag.SQL("WHERE `key` IN ("), sqlfrag.Placeholders(len(keys)),
		sqlfrag.SQL(") AND (`expires_at` IS NULL OR `expires_at` > ?)"),
	)
	return run(ctx, a, func(conn *sql.Conn) (map[string][]byte, error) {
		args := make([]any, 0, len(keys)+1)
		for _, k := range keys {
			args = append(args, k)
		}
		args = append(args, unixNow())
		rows, err := conn.QueryContext(context.Background(), stmt, args...)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		out := make(map[string][]byte, len(keys))
		for rows.Next() {
			var k string
			var v []byte
			if err := rows.Scan(&k, &v); err != nil {
				return nil, err
			}
			out[k] = v
		}
		return out, rows.Err()
	})
}

// BatchSet upserts every item in one submission, so the whole batch is
// ordered atomically with respect to other callers on this handle. Inside a
// transaction the first failure aborts the batch (the session rolls back);
// outside one, failures are collected and the remaining writes proceed.
func (a *Adapter) BatchSet(ctx context.Context, items map[string][]byte) (int, error) {
	keys := make([]string, 0, len(items))
	for k := range items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	type outcome struct {
		count int
		batch *adapter.BatchError
	}
	o, err := run(ctx, a, func(conn *sql.Conn) (outcome, error) {
		now := unixNow()
		var out outcome
		var failed []string
		var errs []error
		for _, k := range keys {
			_, err := conn.ExecContext(context.Background(), a.stmts.set, k, items[k], now)
			if err != nil {
				if a.inTx {
					return out, err
				}
				failed = append(failed, k)
				errs = append(errs, err)
				continue
			}
			out.count++
		}
		if len(failed) > 0 {
			out.batch = &adapter.BatchError{Failed: failed, Errs: errs}
		}
		return out, nil
	})
	if err != nil {
		return o.count, err
	}
	if o.batch != nil {
		return o.count, o.batch
	}
	return o.count, nil
}

func (a *Adapter) Delete(ctx context.Context, key string) (int, error) {
	return run(ctx, a, func(conn *sql.Conn) (int, error) {
		res, err := conn.ExecContext(context.Background(), a.stmts.del, key)
		if err != nil {
			return 0, err
		}
		n, err := res.RowsAffected()
		return int(n), err
	})
}

func (a *Adapter) Exists(ctx context.Context, key string) (bool, error) {
	return run(ctx, a, func(conn *sql.Conn) (bool, error) {
		var one int
		err := conn.QueryRowContext(context.Background(), a.stmts.exists, key, unixNow()).Scan(&one)
		if err == sql.ErrNoRows {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return true, nil
	})
}

func (a *Adapter) Keys(ctx context.Context) ([]string, error) {
	return run(ctx, a, func(conn *sql.Conn) ([]string, error) {
		rows, err := conn.QueryContext(context.Background(), a.stmts.keys, unixNow())
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		var keys []string
		for rows.Next() {
			var k string
			if err := rows.Scan(&k); err != nil {
				return nil, err
			}
			keys = append(keys, k)
		}
		return keys, rows.Err()
	})
}

func (a *Adapter) SetExpire(ctx context.Context, key string, ttl time.Duration) (int, error) {
	return run(ctx, a, func(conn *sql.Conn) (int, error) {
		now := unixNow()
		secs := int64(ttl / time.Second)
		res, err := conn.ExecContext(context.Background(), a.stmts.setExpire, now+secs, secs, key, now)
		if err != nil {
			return 0, err
		}
		n, err := res.RowsAffected()
		return int(n), err
	})
}

func (a *Adapter) GetExpire(ctx context.Context, key string) (time.Duration, bool, error) {
	type row struct {
		remaining time.Duration
		ok        bool
	}
	r, err := run(ctx, a, func(conn *sql.Conn) (row, error) {
		now := unixNow()
		var exp int64
		err := conn.QueryRowContext(context.Background(), a.stmts.getExpire, key, now).Scan(&exp)
		if err == sql.ErrNoRows {
			return row{}, nil
		}
		if err != nil {
			return row{}, err
		}
		remaining := time.Until(time.Unix(exp, 0))
		if remaining < 0 {
			remaining = 0
		}
		return row{remaining: remaining, ok: true}, nil
	})
	if err != nil {
		return 0, false, err
	}
	return r.remaining, r.ok, nil
}

func (a *Adapter) DeleteExpired(ctx context.Context) error {
	_, err := run(ctx, a, func(conn *sql.Conn) (struct{}, error) {
		_, err := conn.ExecContext(context.Background(), a.stmts.sweep, unixNow())
		return struct{}{}, err
	})
	return err
}

func (a *Adapter) CountExpired(ctx context.Context) (int, error) {
	return run(ctx, a, func(conn *sql.Conn) (int, error) {
		var n int
		err := conn.QueryRowContext(context.Background(), a.stmts.countExpired, unixNow()).Scan(&n)
		return n, err
	})
}

func (a *Adapter) KeysWithExpiry(ctx context.Context) ([]adapter.KeyExpiry, error) {
	return run(ctx, a, func(conn *sql.Conn) ([]adapter.KeyExpiry, error) {
		rows, err := conn.QueryContext(context.Background(), a.stmts.keysWithExpiry)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		var out []adapter.KeyExpiry
		for rows.Next() {
			var k string
			var exp int64
			if err := rows.Scan(&k, &exp); err != nil {
				return nil, err
			}
			out = append(out, adapter.KeyExpiry{Key: k, ExpiresAt: time.Unix(exp, 0)})
		}
		return out, rows.Err()
	})
}

func (a *Adapter) SupportsTransactions() bool { return true }

// Begin opens an explicit transaction on the pinned connection. While it is
// open, writes skip their implicit per-statement commit; only Commit or
// Rollback finalizes them. Nesting is rejected.
func (a *Adapter) Begin(ctx context.Context) error {
	if !a.connected() {
		return adapter.ErrClosed
	}
	if a.inTx {
		return adapter.ErrTransactionInProgress
	}
	_, err := run(ctx, a, func(conn *sql.Conn) (struct{}, error) {
		_, err := conn.ExecContext(context.Background(), "BEGIN IMMEDIATE")
		return struct{}{}, err
	})
	if err == nil {
		a.inTx = true
	}
	return err
}

func (a *Adapter) Commit(ctx context.Context) error {
	if !a.connected() {
		return adapter.ErrClosed
	}
	if !a.inTx {
		return adapter.ErrNoTransaction
	}
	_, err := run(ctx, a, func(conn *sql.Conn) (struct{}, error) {
		_, err := conn.ExecContext(context.Background(), "COMMIT")
		return struct{}{}, err
	})
	if err == nil {
		a.inTx = false
	}
	return err
}

func (a *Adapter) Rollback(ctx context.Context) error {
	if !a.connected() {
		return adapter.ErrClosed
	}
	if !a.inTx {
		return adapter.ErrNoTransaction
	}
	_, err := run(ctx, a, func(conn *sql.Conn) (struct{}, error) {
		_, err := conn.ExecContext(context.Background(), "ROLLBACK")
		return struct{}{}, err
	})
	if err == nil {
		a.inTx = false
	}
	return err
}
