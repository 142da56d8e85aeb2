package database

import (
	"context"
	"database/sql"
	"sync"
)

// to cache prepared sql statement, which maps query string to stmt.
// Statements are prepared against the pool and re-bound to a
// transaction with ForTx when used inside one.
type StmtCache struct {
	db *sql.DB
	m  sync.Map
}

func NewStmtCache(db *sql.DB) *StmtCache {
	return &StmtCache{db: db}
}

func (sc *StmtCache) Prepare(query string) (*sql.Stmt, error) {
	cached, _ := sc.m.Load(query)
	if cached == nil {
		stmt, err := sc.db.Prepare(query)
		if err != nil {
			return nil, err
		}
		actual, loaded := sc.m.LoadOrStore(query, stmt)
		if loaded {
			_ = stmt.Close()
		}
		cached = actual
	}
	return cached.(*sql.Stmt), nil
}

// ForTx returns the cached statement for query bound to tx.
// The returned statement is closed by the driver when tx ends.
func (sc *StmtCache) ForTx(ctx context.Context, tx *sql.Tx, query string) (*sql.Stmt, error) {
	stmt, err := sc.Prepare(query)
	if err != nil {
		return nil, err
	}
	return tx.StmtContext(ctx, stmt), nil
}

func (sc *StmtCache) MustPrepare(query string) *sql.Stmt {
	stmt, err := sc.Prepare(query)
	if err != nil {
		panic(err)
	}
	return stmt
}

func (sc *StmtCache) Clear() {
	sc.m.Range(func(k, v interface{}) bool {
		_ = v.(*sql.Stmt).Close()
		sc.m.Delete(k)
		return true
	})
}
