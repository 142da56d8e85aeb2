// Package ledger is the persistent output / balance-change state machine.
//
// Every mutation runs in one sqlite transaction scoped to a single account
// (see Ledger.Update). Events produced inside a transaction are stored with it
// and handed to the Notifier only after commit.
package ledger

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/TEENet-io/watchwallet/database"
	"github.com/lightningnetwork/lnd/clock"
	logger "github.com/sirupsen/logrus"
)

const (
	DEFAULT_CONFIRMATION_DEPTH  uint64 = 6
	DEFAULT_TIP_RETENTION       uint64 = 1000 // most recent scanned tips kept per account
	DEFAULT_TIP_SPARSE_INTERVAL uint64 = 500  // older tips kept only at multiples of this
)

type Config struct {
	ConfirmationDepth uint64
	TipRetention      uint64
	TipSparseInterval uint64
}

func DefaultConfig() *Config {
	return &Config{
		ConfirmationDepth: DEFAULT_CONFIRMATION_DEPTH,
		TipRetention:      DEFAULT_TIP_RETENTION,
		TipSparseInterval: DEFAULT_TIP_SPARSE_INTERVAL,
	}
}

// Notifier receives committed events in order.
type Notifier interface {
	Notify(ev Event)
}

type Ledger struct {
	db        *sql.DB
	stmtcache *database.StmtCache
	cfg       Config
	clock     clock.Clock

	notifierMu sync.RWMutex
	notifier   Notifier
}

// New creates the schema if needed. A nil cfg means DefaultConfig, a nil clk the wall clock.
func New(db *sql.DB, cfg *Config, clk clock.Clock) (*Ledger, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, err
	}

	if cfg == nil {
		cfg = DefaultConfig()
	}
	if clk == nil {
		clk = clock.NewDefaultClock()
	}
	c := *cfg
	if c.TipRetention == 0 {
		c.TipRetention = DEFAULT_TIP_RETENTION
	}
	if c.TipSparseInterval == 0 {
		c.TipSparseInterval = DEFAULT_TIP_SPARSE_INTERVAL
	}

	return &Ledger{
		db:        db,
		stmtcache: database.NewStmtCache(db),
		cfg:       c,
		clock:     clk,
	}, nil
}

func (l *Ledger) Close() {
	l.stmtcache.Clear()
}

func (l *Ledger) Clock() clock.Clock {
	return l.clock
}

func (l *Ledger) ConfirmationDepth() uint64 {
	return l.cfg.ConfirmationDepth
}

func (l *Ledger) SetNotifier(n Notifier) {
	l.notifierMu.Lock()
	defer l.notifierMu.Unlock()
	l.notifier = n
}

// Update runs fn in one write transaction. Either all of fn's writes
// commit or none do.
func (l *Ledger) Update(ctx context.Context, fn func(tx *Tx) error) error {
	var committed []*Event
	err := database.WithTx(ctx, l.db, func(sqlTx *sql.Tx) error {
		tx := &Tx{ctx: ctx, tx: sqlTx, l: l, now: l.clock.Now()}
		if err := fn(tx); err != nil {
			return err
		}
		committed = tx.events
		return nil
	})
	if err != nil {
		return err
	}

	l.publish(committed)
	return nil
}

// View runs fn in a transaction that is always rolled back.
func (l *Ledger) View(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := l.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return err
	}
	defer sqlTx.Rollback()

	tx := &Tx{ctx: ctx, tx: sqlTx, l: l, now: l.clock.Now(), readOnly: true}
	return fn(tx)
}

func (l *Ledger) publish(events []*Event) {
	if len(events) == 0 {
		return
	}
	l.notifierMu.RLock()
	n := l.notifier
	l.notifierMu.RUnlock()
	if n == nil {
		return
	}
	for _, ev := range events {
		n.Notify(*ev)
	}
}

// Tx is a ledger transaction. It is only valid inside the Update / View callback.
type Tx struct {
	ctx      context.Context
	tx       *sql.Tx
	l        *Ledger
	now      time.Time
	readOnly bool
	events   []*Event
}

// Now is the transaction's timestamp, fixed when the transaction began.
func (tx *Tx) Now() time.Time {
	return tx.now
}

func (tx *Tx) Config() Config {
	return tx.l.cfg
}

func (tx *Tx) stmt(query string) (*sql.Stmt, error) {
	return tx.l.stmtcache.ForTx(tx.ctx, tx.tx, query)
}

func (tx *Tx) exec(query string, args ...interface{}) (sql.Result, error) {
	stmt, err := tx.stmt(query)
	if err != nil {
		return nil, err
	}
	return stmt.ExecContext(tx.ctx, args...)
}

func (tx *Tx) queryRow(query string, args ...interface{}) (*sql.Row, error) {
	stmt, err := tx.stmt(query)
	if err != nil {
		return nil, err
	}
	return stmt.QueryRowContext(tx.ctx, args...), nil
}

func (tx *Tx) query(query string, args ...interface{}) (*sql.Rows, error) {
	stmt, err := tx.stmt(query)
	if err != nil {
		return nil, err
	}
	return stmt.QueryContext(tx.ctx, args...)
}

func (tx *Tx) queryInt64(query string, args ...interface{}) (int64, error) {
	row, err := tx.queryRow(query, args...)
	if err != nil {
		return 0, err
	}
	var v int64
	if err := row.Scan(&v); err != nil {
		return 0, err
	}
	return v, nil
}

func logTx(accountID int64) *logger.Entry {
	return logger.WithField("account_id", accountID)
}
