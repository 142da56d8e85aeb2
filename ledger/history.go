package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type TransactionDirection string

const (
	DirectionIncoming TransactionDirection = "incoming"
	DirectionOutgoing TransactionDirection = "outgoing"
)

type DisplayStatus string

const (
	DisplayPending     DisplayStatus = "pending" // broadcast, not mined
	DisplayUnconfirmed DisplayStatus = "unconfirmed"
	DisplayConfirmed   DisplayStatus = "confirmed"
	DisplayCancelled   DisplayStatus = "cancelled"
	DisplayReorganized DisplayStatus = "reorganized"
)

const DEFAULT_HISTORY_LIMIT = 50

type DisplayedOutput struct {
	OutputID int64  `json:"output_id,omitempty"`
	Hash     string `json:"hash"`
	Value    uint64 `json:"value"`
}

type DisplayedDetails struct {
	Inputs      []DisplayedOutput `json:"inputs"`
	Outputs     []DisplayedOutput `json:"outputs"`
	TotalCredit uint64            `json:"total_credit"`
	TotalDebit  uint64            `json:"total_debit"`
}

// DisplayedTransaction is one entry of an account's transaction history: the
// outputs a transaction spent and created for the account, netted into one
// amount and direction. Confirmations is derived from the account's resume
// height when read.
type DisplayedTransaction struct {
	ID            string               `json:"id"`
	AccountID     int64                `json:"account_id"`
	Direction     TransactionDirection `json:"direction"`
	Status        DisplayStatus        `json:"status"`
	Amount        uint64               `json:"amount"`
	BlockHeight   uint64               `json:"block_height"`
	Confirmations uint64               `json:"confirmations"`
	RequestID     string               `json:"request_id,omitempty"`
	Details       DisplayedDetails     `json:"details"`
	CreatedAt     time.Time            `json:"created_at"`
	UpdatedAt     time.Time            `json:"updated_at"`
}

type HistoryFilter struct {
	Limit              int
	Offset             int
	IncludeReorganized bool
}

// txGroup collects what one transaction did to the account within a block.
type txGroup struct {
	requestID string
	spent     []*Output
	created   []*Output
}

func (g *txGroup) details() DisplayedDetails {
	d := DisplayedDetails{Inputs: []DisplayedOutput{}, Outputs: []DisplayedOutput{}}
	for _, o := range g.spent {
		d.Inputs = append(d.Inputs, DisplayedOutput{OutputID: o.ID, Hash: o.Hash.String(), Value: o.Value})
		d.TotalDebit += o.Value
	}
	for _, o := range g.created {
		d.Outputs = append(d.Outputs, DisplayedOutput{OutputID: o.ID, Hash: o.Hash.String(), Value: o.Value})
		d.TotalCredit += o.Value
	}
	return d
}

func netAmount(d DisplayedDetails) (TransactionDirection, uint64) {
	if d.TotalDebit > d.TotalCredit {
		return DirectionOutgoing, d.TotalDebit - d.TotalCredit
	}
	return DirectionIncoming, d.TotalCredit - d.TotalDebit
}

// groupBlockActivity splits one block's effects on an account into displayed
// transactions. Spends of a request's outputs go with the request's change
// outputs. Spends without a request are merged with the remaining created
// outputs; with no such spend every created output stands alone.
func (tx *Tx) groupBlockActivity(created, spent []*Output) ([]*txGroup, error) {
	byRequest := map[string]*txGroup{}
	groups := []*txGroup{}
	loose := []*Output{}
	for _, o := range spent {
		if o.LockedByRequestID == "" {
			loose = append(loose, o)
			continue
		}
		g, ok := byRequest[o.LockedByRequestID]
		if !ok {
			g = &txGroup{requestID: o.LockedByRequestID}
			byRequest[g.requestID] = g
			groups = append(groups, g)
		}
		g.spent = append(g.spent, o)
	}

	claimed := map[int64]struct{}{}
	for _, g := range groups {
		change, err := tx.pendingOutputsOf(g.requestID)
		if err != nil {
			return nil, err
		}
		hashes := map[string]struct{}{}
		for _, c := range change {
			hashes[c.Hash] = struct{}{}
		}
		for _, o := range created {
			if _, ok := claimed[o.ID]; ok {
				continue
			}
			if _, ok := hashes[o.Hash.String()]; ok {
				g.created = append(g.created, o)
				claimed[o.ID] = struct{}{}
			}
		}
	}

	rest := []*Output{}
	for _, o := range created {
		if _, ok := claimed[o.ID]; !ok {
			rest = append(rest, o)
		}
	}
	if len(loose) > 0 {
		groups = append(groups, &txGroup{spent: loose, created: rest})
		return groups, nil
	}
	for _, o := range rest {
		groups = append(groups, &txGroup{created: []*Output{o}})
	}
	return groups, nil
}

// pendingOutputsOf returns the request's pending outputs that did not expire.
func (tx *Tx) pendingOutputsOf(requestID string) ([]DisplayedOutput, error) {
	rows, err := tx.query(queryGetPendingOutputsByRequest, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	outs := []DisplayedOutput{}
	for rows.Next() {
		var (
			o     DisplayedOutput
			value int64
		)
		if err := rows.Scan(&o.Hash, &value); err != nil {
			return nil, err
		}
		o.Value = uint64(value)
		outs = append(outs, o)
	}
	return outs, rows.Err()
}

// recordBlockActivity stores the displayed transactions of one applied block.
// A request's broadcast entry, if any, becomes the mined entry.
func (tx *Tx) recordBlockActivity(accountID int64, height uint64, created, spent []*Output) error {
	if len(created) == 0 && len(spent) == 0 {
		return nil
	}
	groups, err := tx.groupBlockActivity(created, spent)
	if err != nil {
		return err
	}

	for _, g := range groups {
		d := g.details()
		dir, amount := netAmount(d)

		if g.requestID != "" {
			prev, ok, err := tx.getDisplayed(queryGetBroadcastDisplayed, g.requestID)
			if err != nil {
				return err
			}
			if ok {
				raw, err := json.Marshal(d)
				if err != nil {
					return err
				}
				if _, err := tx.exec(queryMarkDisplayedMined, string(dir), amount, height, string(raw),
					tx.now.Unix(), prev.ID); err != nil {
					return err
				}
				continue
			}
		}

		if err := tx.insertDisplayed(&DisplayedTransaction{
			AccountID:   accountID,
			Direction:   dir,
			Status:      DisplayUnconfirmed,
			Amount:      amount,
			BlockHeight: height,
			RequestID:   g.requestID,
			Details:     d,
		}); err != nil {
			return err
		}
	}
	return nil
}

// RecordBroadcast stores the pending history entry of a request whose
// transaction was broadcast: its locked outputs against its open change.
// Nothing is stored when the request holds no locked output.
func (tx *Tx) RecordBroadcast(req *PendingTransaction) (*DisplayedTransaction, error) {
	outs, err := tx.GetOutputsByRequest(req.ID)
	if err != nil {
		return nil, err
	}
	g := &txGroup{requestID: req.ID}
	for _, o := range outs {
		if o.Status == Locked {
			g.spent = append(g.spent, o)
		}
	}
	if len(g.spent) == 0 {
		return nil, nil
	}
	change, err := tx.pendingOutputsOf(req.ID)
	if err != nil {
		return nil, err
	}

	d := g.details()
	for _, c := range change {
		d.Outputs = append(d.Outputs, c)
		d.TotalCredit += c.Value
	}
	dir, amount := netAmount(d)

	dt := &DisplayedTransaction{
		AccountID: req.AccountID,
		Direction: dir,
		Status:    DisplayPending,
		Amount:    amount,
		RequestID: req.ID,
		Details:   d,
	}
	if err := tx.insertDisplayed(dt); err != nil {
		return nil, err
	}
	return dt, nil
}

// CancelBroadcast marks the request's broadcast entry cancelled; the
// transaction was never mined.
func (tx *Tx) CancelBroadcast(requestID string) error {
	_, err := tx.exec(queryCancelBroadcastDisplayed, tx.now.Unix(), requestID)
	return err
}

func (tx *Tx) confirmDisplayed(accountID int64, height uint64) error {
	depth := tx.l.cfg.ConfirmationDepth
	if height < depth {
		return nil
	}
	_, err := tx.exec(queryConfirmDisplayed, tx.now.Unix(), accountID, height-depth)
	return err
}

// reorganizeDisplayed marks entries mined at or above from as reorganized and
// returns their ids. Entries below from that confirmed at or above it go back to unconfirmed.
func (tx *Tx) reorganizeDisplayed(accountID int64, from uint64) ([]string, error) {
	rows, err := tx.query(queryGetDisplayedMinedFrom, accountID, from)
	if err != nil {
		return nil, err
	}
	dts, err := scanDisplayed(rows)
	if err != nil {
		return nil, err
	}

	ids := []string{}
	for _, dt := range dts {
		if _, err := tx.exec(queryMarkDisplayedReorganized, tx.now.Unix(), dt.ID); err != nil {
			return nil, err
		}
		ids = append(ids, dt.ID)
	}

	_, err = tx.exec(queryUnconfirmDisplayed, tx.now.Unix(), accountID, from, tx.l.cfg.ConfirmationDepth, from)
	return ids, err
}

func (tx *Tx) insertDisplayed(dt *DisplayedTransaction) error {
	raw, err := json.Marshal(dt.Details)
	if err != nil {
		return err
	}
	dt.ID = uuid.New().String()
	dt.CreatedAt = tx.now
	dt.UpdatedAt = tx.now

	var reqID sql.NullString
	if dt.RequestID != "" {
		reqID = sql.NullString{String: dt.RequestID, Valid: true}
	}
	_, err = tx.exec(queryInsertDisplayed,
		dt.ID,
		dt.AccountID,
		string(dt.Direction),
		string(dt.Status),
		dt.Amount,
		dt.BlockHeight,
		reqID,
		string(raw),
		dt.CreatedAt.Unix(),
		dt.UpdatedAt.Unix(),
	)
	return err
}

func (tx *Tx) getDisplayed(query string, args ...interface{}) (*DisplayedTransaction, bool, error) {
	rows, err := tx.query(query, args...)
	if err != nil {
		return nil, false, err
	}
	dts, err := scanDisplayed(rows)
	if err != nil || len(dts) == 0 {
		return nil, false, err
	}
	return dts[0], true, nil
}

// GetHistory returns a page of the account's displayed transactions, broadcast
// ones first, then newest block first.
func (tx *Tx) GetHistory(accountID int64, f HistoryFilter) ([]*DisplayedTransaction, error) {
	acct, err := tx.mustAccount(accountID)
	if err != nil {
		return nil, err
	}
	if f.Limit <= 0 {
		f.Limit = DEFAULT_HISTORY_LIMIT
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	rows, err := tx.query(queryGetDisplayedPage, acct.ID, f.IncludeReorganized, f.Limit, f.Offset)
	if err != nil {
		return nil, err
	}
	dts, err := scanDisplayed(rows)
	if err != nil {
		return nil, err
	}
	for _, dt := range dts {
		mined := dt.Status == DisplayUnconfirmed || dt.Status == DisplayConfirmed
		if mined && acct.ResumeHeight >= dt.BlockHeight {
			dt.Confirmations = acct.ResumeHeight - dt.BlockHeight + 1
		}
	}
	return dts, nil
}

func (l *Ledger) History(ctx context.Context, accountID int64, f HistoryFilter) ([]*DisplayedTransaction, error) {
	var dts []*DisplayedTransaction
	err := l.View(ctx, func(tx *Tx) error {
		var err error
		dts, err = tx.GetHistory(accountID, f)
		return err
	})
	return dts, err
}

func scanDisplayed(rows *sql.Rows) ([]*DisplayedTransaction, error) {
	defer rows.Close()

	dts := []*DisplayedTransaction{}
	for rows.Next() {
		var (
			dt                   DisplayedTransaction
			dir, status, details string
			amount, height       int64
			reqID                sql.NullString
			createdAt, updatedAt int64
		)
		if err := rows.Scan(&dt.ID, &dt.AccountID, &dir, &status, &amount, &height, &reqID, &details,
			&createdAt, &updatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(details), &dt.Details); err != nil {
			return nil, fmt.Errorf("displayed transaction %s: %w", dt.ID, err)
		}
		dt.Direction = TransactionDirection(dir)
		dt.Status = DisplayStatus(status)
		dt.Amount = uint64(amount)
		dt.BlockHeight = uint64(height)
		dt.RequestID = reqID.String
		dt.CreatedAt = time.Unix(createdAt, 0)
		dt.UpdatedAt = time.Unix(updatedAt, 0)
		dts = append(dts, &dt)
	}
	return dts, rows.Err()
}
