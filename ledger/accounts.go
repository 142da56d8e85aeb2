package ledger

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/TEENet-io/watchwallet/chainsource"
	"github.com/btcsuite/btcd/btcec/v2"
	logger "github.com/sirupsen/logrus"
)

// CreateAccount stores a parent account. Scanning starts after birthday.
func (l *Ledger) CreateAccount(ctx context.Context, name string, viewKey *btcec.PrivateKey, birthday uint64) (*Account, error) {
	var acct *Account
	err := l.Update(ctx, func(tx *Tx) error {
		var err error
		acct, err = tx.insertAccount(&Account{
			Name:           name,
			Kind:           KindParent,
			ViewKey:        viewKey.Serialize(),
			PublicKey:      viewKey.PubKey().SerializeCompressed(),
			BirthdayHeight: birthday,
			ResumeHeight:   birthday,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	logger.WithFields(logger.Fields{
		"name":     name,
		"birthday": birthday,
	}).Info("parent account created")
	return acct, nil
}

// CreateChildAccount derives the next child view key of parentName and stores it.
// The child inherits the parent's birthday.
func (l *Ledger) CreateChildAccount(ctx context.Context, parentName, name string) (*Account, error) {
	var acct *Account
	err := l.Update(ctx, func(tx *Tx) error {
		parent, ok, err := tx.GetAccountByName(parentName)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrAccountNotFound, parentName)
		}
		if parent.Kind != KindParent {
			return fmt.Errorf("account %s is not a parent account", parentName)
		}

		parentKey, err := chainsource.ParseViewKey(parent.ViewKey)
		if err != nil {
			return err
		}

		next, err := tx.queryInt64(queryNextDerivationIndex, parent.ID)
		if err != nil {
			return err
		}
		index := uint32(next)

		childKey, err := chainsource.DeriveChildViewKey(parentKey, index)
		if err != nil {
			return err
		}

		acct, err = tx.insertAccount(&Account{
			Name:           name,
			Kind:           KindChild,
			ViewKey:        childKey.Serialize(),
			PublicKey:      childKey.PubKey().SerializeCompressed(),
			Child:          &ChildInfo{ParentID: parent.ID, Index: index},
			BirthdayHeight: parent.BirthdayHeight,
			ResumeHeight:   parent.BirthdayHeight,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	logger.WithFields(logger.Fields{
		"name":   name,
		"parent": parentName,
		"index":  acct.Child.Index,
	}).Info("child account derived")
	return acct, nil
}

func (l *Ledger) AccountByName(ctx context.Context, name string) (*Account, error) {
	var acct *Account
	err := l.View(ctx, func(tx *Tx) error {
		a, ok, err := tx.GetAccountByName(name)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrAccountNotFound, name)
		}
		acct = a
		return nil
	})
	return acct, err
}

func (l *Ledger) AccountByID(ctx context.Context, id int64) (*Account, error) {
	var acct *Account
	err := l.View(ctx, func(tx *Tx) error {
		a, ok, err := tx.GetAccountByID(id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: id=%d", ErrAccountNotFound, id)
		}
		acct = a
		return nil
	})
	return acct, err
}

func (l *Ledger) Accounts(ctx context.Context) ([]*Account, error) {
	var accts []*Account
	err := l.View(ctx, func(tx *Tx) error {
		var err error
		accts, err = tx.GetAccounts()
		return err
	})
	return accts, err
}

func (tx *Tx) insertAccount(a *Account) (*Account, error) {
	if _, ok, err := tx.GetAccountByName(a.Name); err != nil {
		return nil, err
	} else if ok {
		return nil, fmt.Errorf("%w: %s", ErrAccountExists, a.Name)
	}

	var parentID, index sql.NullInt64
	if a.Child != nil {
		parentID = sql.NullInt64{Int64: a.Child.ParentID, Valid: true}
		index = sql.NullInt64{Int64: int64(a.Child.Index), Valid: true}
	}

	res, err := tx.exec(queryInsertAccount,
		a.Name,
		string(a.Kind),
		a.ViewKey,
		a.PublicKey,
		parentID,
		index,
		a.BirthdayHeight,
		a.ResumeHeight,
		tx.now.Unix(),
	)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	acct, ok, err := tx.GetAccountByID(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("account %s vanished after insert", a.Name)
	}
	return acct, nil
}

func (tx *Tx) getAccount(query string, arg interface{}) (*Account, bool, error) {
	row, err := tx.queryRow(query, arg)
	if err != nil {
		return nil, false, err
	}

	var s sqlAccount
	if err := row.Scan(s.fields()...); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}

	acct, err := s.decode()
	if err != nil {
		return nil, false, err
	}
	return acct, true, nil
}

func (tx *Tx) GetAccountByID(id int64) (*Account, bool, error) {
	return tx.getAccount(queryGetAccountById, id)
}

func (tx *Tx) GetAccountByName(name string) (*Account, bool, error) {
	return tx.getAccount(queryGetAccountByName, name)
}

func (tx *Tx) getAccounts(query string, args ...interface{}) ([]*Account, error) {
	rows, err := tx.query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	accts := []*Account{}
	for rows.Next() {
		var s sqlAccount
		if err := rows.Scan(s.fields()...); err != nil {
			return nil, err
		}
		acct, err := s.decode()
		if err != nil {
			return nil, err
		}
		accts = append(accts, acct)
	}
	return accts, rows.Err()
}

func (tx *Tx) GetAccounts() ([]*Account, error) {
	return tx.getAccounts(queryGetAccounts)
}

func (tx *Tx) GetChildAccounts(parentID int64) ([]*Account, error) {
	return tx.getAccounts(queryGetChildAccounts, parentID)
}

func (tx *Tx) setResumeHeight(accountID int64, height uint64) error {
	_, err := tx.exec(querySetResumeHeight, height, accountID)
	return err
}

// mustAccount loads the account or fails with ErrAccountNotFound.
func (tx *Tx) mustAccount(id int64) (*Account, error) {
	acct, ok, err := tx.GetAccountByID(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: id=%d", ErrAccountNotFound, id)
	}
	return acct, nil
}
