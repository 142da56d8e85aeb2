package ledger

import (
	"context"
	"database/sql"

	"github.com/TEENet-io/watchwallet/common"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

func (tx *Tx) insertScannedTip(accountID int64, height uint64, hash chainhash.Hash) error {
	_, err := tx.exec(queryInsertScannedTip, accountID, height, hash.String(), tx.now.Unix())
	return err
}

func (tx *Tx) GetScannedTip(accountID int64, height uint64) (*ScannedTip, bool, error) {
	row, err := tx.queryRow(queryGetScannedTip, accountID, height)
	if err != nil {
		return nil, false, err
	}

	var (
		h   int64
		str string
	)
	if err := row.Scan(&h, &str); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}

	hash, err := common.HashFromStr(str)
	if err != nil {
		return nil, false, err
	}
	return &ScannedTip{Height: uint64(h), Hash: hash}, true, nil
}

// GetScannedTips returns up to limit tips, newest first.
func (tx *Tx) GetScannedTips(accountID int64, limit int) ([]*ScannedTip, error) {
	return tx.getScannedTips(queryGetScannedTips, accountID, limit)
}

// getScannedTipsFrom returns the tips at or above height, oldest first.
func (tx *Tx) getScannedTipsFrom(accountID int64, height uint64) ([]*ScannedTip, error) {
	return tx.getScannedTips(queryGetScannedTipsFrom, accountID, height)
}

func (tx *Tx) getScannedTips(query string, args ...interface{}) ([]*ScannedTip, error) {
	rows, err := tx.query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tips := []*ScannedTip{}
	for rows.Next() {
		var (
			h   int64
			str string
		)
		if err := rows.Scan(&h, &str); err != nil {
			return nil, err
		}
		hash, err := common.HashFromStr(str)
		if err != nil {
			return nil, err
		}
		tips = append(tips, &ScannedTip{Height: uint64(h), Hash: hash})
	}
	return tips, rows.Err()
}

// pruneScannedTips keeps the newest TipRetention tips below latest and, older
// than that, only heights divisible by TipSparseInterval.
func (tx *Tx) pruneScannedTips(accountID int64, latest uint64) error {
	retention := tx.l.cfg.TipRetention
	if latest < retention {
		return nil
	}
	_, err := tx.exec(queryPruneScannedTips, accountID, latest-retention+1, tx.l.cfg.TipSparseInterval)
	return err
}

func (tx *Tx) deleteTipsFrom(accountID int64, height uint64) (int64, error) {
	res, err := tx.exec(queryDeleteTipsFrom, accountID, height)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (l *Ledger) ScannedTips(ctx context.Context, accountID int64, limit int) ([]*ScannedTip, error) {
	var tips []*ScannedTip
	err := l.View(ctx, func(tx *Tx) error {
		var err error
		tips, err = tx.GetScannedTips(accountID, limit)
		return err
	})
	return tips, err
}
