package database

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"

	"github.com/TEENet-io/watchwallet/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) (*sql.DB, func()) {
	file := common.RandDBFile()
	db, err := Open(file)
	require.NoError(t, err)

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS kv (k TEXT PRIMARY KEY, v INTEGER NOT NULL);`)
	require.NoError(t, err)

	close := func() {
		db.Close()
		os.Remove(file)
		os.Remove(file + "-wal")
		os.Remove(file + "-shm")
	}
	return db, close
}

func TestOpenEmptyPath(t *testing.T) {
	_, err := Open("")
	assert.Error(t, err)
}

func TestWithTxCommit(t *testing.T) {
	db, close := newTestDB(t)
	defer close()

	err := WithTx(context.Background(), db, func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO kv (k, v) VALUES (?, ?);`, "a", 1)
		return err
	})
	assert.NoError(t, err)

	var v int
	assert.NoError(t, db.QueryRow(`SELECT v FROM kv WHERE k = ?;`, "a").Scan(&v))
	assert.Equal(t, 1, v)
}

func TestWithTxRollback(t *testing.T) {
	db, close := newTestDB(t)
	defer close()

	errBoom := errors.New("boom")
	err := WithTx(context.Background(), db, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT INTO kv (k, v) VALUES (?, ?);`, "a", 1); err != nil {
			return err
		}
		return errBoom
	})
	assert.ErrorIs(t, err, errBoom)

	var n int
	assert.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM kv;`).Scan(&n))
	assert.Equal(t, 0, n)
}

func TestStmtCacheForTx(t *testing.T) {
	db, close := newTestDB(t)
	defer close()

	sc := NewStmtCache(db)
	defer sc.Clear()

	query := `INSERT INTO kv (k, v) VALUES (?, ?);`
	ctx := context.Background()
	for i, k := range []string{"a", "b"} {
		err := WithTx(ctx, db, func(tx *sql.Tx) error {
			stmt, err := sc.ForTx(ctx, tx, query)
			if err != nil {
				return err
			}
			_, err = stmt.Exec(k, i)
			return err
		})
		assert.NoError(t, err)
	}

	first, err := sc.Prepare(query)
	assert.NoError(t, err)
	second := sc.MustPrepare(query)
	assert.Same(t, first, second)

	var n int
	assert.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM kv;`).Scan(&n))
	assert.Equal(t, 2, n)
}
