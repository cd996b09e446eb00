package sqlite

import (
	"context"
	"database/sql"
	"sync"
)

// request is one unit of work for the writer goroutine. done is buffered so
// the worker can resolve it and move on even if the caller has already
// abandoned the wait.
type request struct {
	fn   func(conn *sql.Conn) (any, error)
	done chan result
}

type result struct {
	v   any
	err error
}

// executor serializes all engine access onto one goroutine. The SQLite
// connection is owned by that goroutine for the executor's entire lifetime;
// no other goroutine touches it. Callers submit closures and wait on a
// per-request result slot, so many callers may issue operations
// concurrently while the engine only ever sees one statement at a time, in
// FIFO submission order.
type executor struct {
	db   *sql.DB
	conn *sql.Conn
	reqs chan request
	wg   sync.WaitGroup
}

func newExecutor(db *sql.DB, conn *sql.Conn) *executor {
	e := &executor{
		db:   db,
		conn: conn,
		reqs: make(chan request, 64),
	}
	e.wg.Add(1)
	go e.run()
	return e
}

func (e *executor) run() {
	defer e.wg.Done()
	for req := range e.reqs {
		v, err := req.fn(e.conn)
		req.done <- result{v: v, err: err}
	}
}

// submit hands fn to the writer goroutine and waits for its result. If ctx
// is cancelled while waiting, the statement still runs to completion on the
// worker; only the wait is abandoned.
func (e *executor) submit(ctx context.Context, fn func(conn *sql.Conn) (any, error)) (any, error) {
	done := make(chan result, 1)
	select {
	case e.reqs <- request{fn: fn, done: done}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case res := <-done:
		return res.v, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// close releases the engine connection after everything already queued has
// executed, then stops the worker and joins it. The release runs on the
// worker goroutine, which owns the connection; close does not return until
// the goroutine has fully exited.
func (e *executor) close() error {
	done := make(chan result, 1)
	e.reqs <- request{
		fn: func(conn *sql.Conn) (any, error) {
			cerr := conn.Close()
			if derr := e.db.Close(); cerr == nil {
				cerr = derr
			}
			return nil, cerr
		},
		done: done,
	}
	close(e.reqs)
	e.wg.Wait()
	res := <-done
	return res.err
}
