package ledger

import (
	"context"
)

func (tx *Tx) accountBalance(accountID int64) (*Balance, error) {
	b := &Balance{AccountID: accountID}

	sums := []struct {
		query string
		dst   *uint64
	}{
		{querySumAvailable, &b.Available},
		{querySumLocked, &b.Locked},
		{querySumUnconfirmed, &b.PendingIncoming},
		{querySumPendingOutputs, nil},
		{querySumPendingInputs, &b.PendingOutgoing},
	}
	for _, s := range sums {
		v, err := tx.queryInt64(s.query, accountID)
		if err != nil {
			return nil, err
		}
		if s.dst == nil {
			// change outputs of broadcast transactions are incoming too
			b.PendingIncoming += uint64(v)
			continue
		}
		*s.dst = uint64(v)
	}

	total, err := tx.ledgerTotal(accountID)
	if err != nil {
		return nil, err
	}
	b.LedgerTotal = total
	return b, nil
}

// Balance returns the buckets of one account. For a parent account with
// includeChildren set, the buckets of all its children are added.
func (tx *Tx) Balance(accountID int64, includeChildren bool) (*Balance, error) {
	acct, err := tx.mustAccount(accountID)
	if err != nil {
		return nil, err
	}

	b, err := tx.accountBalance(acct.ID)
	if err != nil {
		return nil, err
	}

	switch acct.Kind {
	case KindParent:
		if !includeChildren {
			return b, nil
		}
		children, err := tx.GetChildAccounts(acct.ID)
		if err != nil {
			return nil, err
		}
		for _, c := range children {
			cb, err := tx.accountBalance(c.ID)
			if err != nil {
				return nil, err
			}
			b.add(cb)
		}
	case KindChild:
	}
	return b, nil
}

func (l *Ledger) Balance(ctx context.Context, accountID int64, includeChildren bool) (*Balance, error) {
	var b *Balance
	err := l.View(ctx, func(tx *Tx) error {
		var err error
		b, err = tx.Balance(accountID, includeChildren)
		return err
	})
	return b, err
}

// TotalBalance sums every account. AccountID of the result is 0.
func (l *Ledger) TotalBalance(ctx context.Context) (*Balance, error) {
	total := &Balance{}
	err := l.View(ctx, func(tx *Tx) error {
		accts, err := tx.GetAccounts()
		if err != nil {
			return err
		}
		for _, a := range accts {
			b, err := tx.accountBalance(a.ID)
			if err != nil {
				return err
			}
			total.add(b)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return total, nil
}
