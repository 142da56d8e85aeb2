package ledger

import (
	"database/sql"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

func (tx *Tx) insertOutput(accountID int64, hash chainhash.Hash, value uint64, height uint64, blockHash chainhash.Hash) (int64, error) {
	res, err := tx.exec(queryInsertOutput,
		accountID,
		hash.String(),
		value,
		height,
		blockHash.String(),
		tx.now.Unix(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (tx *Tx) getOutput(query string, args ...interface{}) (*Output, bool, error) {
	row, err := tx.queryRow(query, args...)
	if err != nil {
		return nil, false, err
	}

	var s sqlOutput
	if err := row.Scan(s.fields()...); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}

	out, err := s.decode()
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

func (tx *Tx) getOutputs(query string, args ...interface{}) ([]*Output, error) {
	rows, err := tx.query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	outs := []*Output{}
	for rows.Next() {
		var s sqlOutput
		if err := rows.Scan(s.fields()...); err != nil {
			return nil, err
		}
		out, err := s.decode()
		if err != nil {
			return nil, err
		}
		outs = append(outs, out)
	}
	return outs, rows.Err()
}

func (tx *Tx) GetOutputByID(id int64) (*Output, bool, error) {
	return tx.getOutput(queryGetOutputById, id)
}

// GetLiveOutputByHash returns the non-deleted output with the hash, whichever account owns it.
func (tx *Tx) GetLiveOutputByHash(hash chainhash.Hash) (*Output, bool, error) {
	return tx.getOutput(queryGetLiveOutputByHash, hash.String())
}

// GetOutputs returns every output row of the account, soft-deleted ones included.
func (tx *Tx) GetOutputs(accountID int64) ([]*Output, error) {
	return tx.getOutputs(queryGetOutputsByAccount, accountID)
}

// GetSpendableOutputs returns confirmed unspent outputs in coin selection order.
func (tx *Tx) GetSpendableOutputs(accountID int64) ([]*Output, error) {
	return tx.getOutputs(queryGetSpendableOutputs, accountID)
}

func (tx *Tx) GetOutputsByRequest(requestID string) ([]*Output, error) {
	return tx.getOutputs(queryGetOutputsByRequest, requestID)
}

func (tx *Tx) getUnconfirmedOutputs(accountID int64, maxMinedHeight uint64) ([]*Output, error) {
	return tx.getOutputs(queryGetUnconfirmedOutputs, accountID, maxMinedHeight)
}

func (tx *Tx) setOutputSpent(id int64) error {
	_, err := tx.exec(querySetOutputSpent, id)
	return err
}

func (tx *Tx) setOutputConfirmed(id int64, height uint64, hash chainhash.Hash) error {
	_, err := tx.exec(querySetOutputConfirmed, height, hash.String(), id)
	return err
}

// LockOutput moves a confirmed unspent output of the account to Locked.
// It returns false when the output was not lockable.
func (tx *Tx) LockOutput(accountID, outputID int64, requestID string) (bool, error) {
	res, err := tx.exec(queryLockOutput, tx.now.Unix(), requestID, outputID, accountID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// UnlockRequest returns every output still locked by the request to Unspent.
func (tx *Tx) UnlockRequest(requestID string) (int64, error) {
	res, err := tx.exec(queryUnlockOutputsByRequest, requestID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (tx *Tx) countLockedByRequest(requestID string) (int64, error) {
	return tx.queryInt64(queryCountLockedByRequest, requestID)
}

// inputs

func (tx *Tx) insertInput(accountID, outputID int64, height uint64, blockHash chainhash.Hash) (int64, error) {
	res, err := tx.exec(queryInsertInput, accountID, outputID, height, blockHash.String(), tx.now.Unix())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (tx *Tx) getInputs(query string, args ...interface{}) ([]*Input, error) {
	rows, err := tx.query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ins := []*Input{}
	for rows.Next() {
		var s sqlInput
		if err := rows.Scan(s.fields()...); err != nil {
			return nil, err
		}
		in, err := s.decode()
		if err != nil {
			return nil, err
		}
		ins = append(ins, in)
	}
	return ins, rows.Err()
}

func (tx *Tx) GetLiveInputByOutput(outputID int64) (*Input, bool, error) {
	row, err := tx.queryRow(queryGetLiveInputByOutput, outputID)
	if err != nil {
		return nil, false, err
	}

	var s sqlInput
	if err := row.Scan(s.fields()...); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}

	in, err := s.decode()
	if err != nil {
		return nil, false, err
	}
	return in, true, nil
}

// GetInputs returns every input row of the account, soft-deleted ones included.
func (tx *Tx) GetInputs(accountID int64) ([]*Input, error) {
	return tx.getInputs(queryGetInputsByAccount, accountID)
}
