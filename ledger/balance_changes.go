package ledger

import (
	"context"
	"database/sql"
	"fmt"
)

func (tx *Tx) insertBalanceChange(bc *BalanceChange) (int64, error) {
	res, err := tx.exec(queryInsertBalanceChange,
		bc.AccountID,
		toNullInt64(bc.CausedByOutputID),
		toNullInt64(bc.CausedByInputID),
		bc.Description,
		bc.Credit,
		bc.Debit,
		bc.EffectiveHeight,
		bc.EffectiveDate.Unix(),
		bc.IsReversal,
		toNullInt64(bc.ReversalOfID),
	)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	bc.ID = id
	return id, nil
}

func (tx *Tx) GetBalanceChange(id int64) (*BalanceChange, bool, error) {
	row, err := tx.queryRow(queryGetBalanceChangeById, id)
	if err != nil {
		return nil, false, err
	}

	var s sqlBalanceChange
	if err := row.Scan(s.fields()...); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}
	return s.decode(), true, nil
}

func (tx *Tx) getBalanceChanges(query string, args ...interface{}) ([]*BalanceChange, error) {
	rows, err := tx.query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bcs := []*BalanceChange{}
	for rows.Next() {
		var s sqlBalanceChange
		if err := rows.Scan(s.fields()...); err != nil {
			return nil, err
		}
		bcs = append(bcs, s.decode())
	}
	return bcs, rows.Err()
}

// GetBalanceChanges returns the account's ledger in effective height order.
func (tx *Tx) GetBalanceChanges(accountID int64) ([]*BalanceChange, error) {
	return tx.getBalanceChanges(queryGetBalanceChangesByAccount, accountID)
}

func (tx *Tx) hasLiveCredit(outputID int64) (bool, error) {
	n, err := tx.queryInt64(queryHasLiveCreditForOutput, outputID)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// appendCredit records the value of an output once, when it confirms or is spent first.
func (tx *Tx) appendCredit(out *Output, height uint64, desc string) (*BalanceChange, error) {
	if ok, err := tx.hasLiveCredit(out.ID); err != nil || ok {
		return nil, err
	}
	id := out.ID
	bc := &BalanceChange{
		AccountID:        out.AccountID,
		CausedByOutputID: &id,
		Description:      desc,
		Credit:           out.Value,
		EffectiveHeight:  height,
		EffectiveDate:    tx.now,
	}
	if _, err := tx.insertBalanceChange(bc); err != nil {
		return nil, err
	}
	return bc, nil
}

// reverse appends the swapped row for bc and flags bc as reversed.
func (tx *Tx) reverse(bc *BalanceChange, desc string) (*BalanceChange, error) {
	if bc.IsReversal {
		return nil, fmt.Errorf("%w: id=%d", ErrNotReversible, bc.ID)
	}
	if bc.IsReversed {
		return nil, fmt.Errorf("%w: id=%d", ErrAlreadyReversed, bc.ID)
	}

	res, err := tx.exec(querySetBalanceChangeReversed, bc.ID)
	if err != nil {
		return nil, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, err
	} else if n != 1 {
		return nil, fmt.Errorf("%w: id=%d", ErrAlreadyReversed, bc.ID)
	}

	origID := bc.ID
	rev := &BalanceChange{
		AccountID:        bc.AccountID,
		CausedByOutputID: bc.CausedByOutputID,
		CausedByInputID:  bc.CausedByInputID,
		Description:      desc,
		Credit:           bc.Debit,
		Debit:            bc.Credit,
		EffectiveHeight:  bc.EffectiveHeight,
		EffectiveDate:    tx.now,
		IsReversal:       true,
		ReversalOfID:     &origID,
	}
	if _, err := tx.insertBalanceChange(rev); err != nil {
		return nil, err
	}
	bc.IsReversed = true
	return rev, nil
}

// ledgerTotal is SUM(credit) - SUM(debit) over all rows of the account.
// Each reversal cancels its original, so this equals the sum over live rows.
func (tx *Tx) ledgerTotal(accountID int64) (int64, error) {
	row, err := tx.queryRow(queryLedgerTotals, accountID)
	if err != nil {
		return 0, err
	}
	var credit, debit int64
	if err := row.Scan(&credit, &debit); err != nil {
		return 0, err
	}
	return credit - debit, nil
}

// Reverse manually reverses one balance change of the account.
func (l *Ledger) Reverse(ctx context.Context, accountID, balanceChangeID int64) (*BalanceChange, error) {
	var rev *BalanceChange
	err := l.Update(ctx, func(tx *Tx) error {
		bc, ok, err := tx.GetBalanceChange(balanceChangeID)
		if err != nil {
			return err
		}
		if !ok || bc.AccountID != accountID {
			return fmt.Errorf("%w: id=%d", ErrBalanceChangeAbsent, balanceChangeID)
		}

		rev, err = tx.reverse(bc, fmt.Sprintf("manual reversal of #%d", bc.ID))
		if err != nil {
			return err
		}

		return tx.appendEvent(&Event{
			AccountID:       accountID,
			Type:            EventBalanceChange,
			Height:          bc.EffectiveHeight,
			BalanceChangeID: &rev.ID,
			Payload:         balanceChangePayload(rev),
		})
	})
	if err != nil {
		return nil, err
	}
	return rev, nil
}

func (l *Ledger) BalanceChanges(ctx context.Context, accountID int64) ([]*BalanceChange, error) {
	var bcs []*BalanceChange
	err := l.View(ctx, func(tx *Tx) error {
		var err error
		bcs, err = tx.GetBalanceChanges(accountID)
		return err
	})
	return bcs, err
}
