package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

type EventType string

const (
	EventOutputDetected   EventType = "output_detected"
	EventInputDetected    EventType = "input_detected"
	EventOutputConfirmed  EventType = "output_confirmed"
	EventBalanceChange    EventType = "balance_change"
	EventBlockRolledBack  EventType = "block_rolled_back"
	EventOutputRolledBack EventType = "output_rolled_back"
	EventRollbackApplied  EventType = "rollback_applied"
	EventFundsLocked      EventType = "funds_locked"
	EventFundsReleased    EventType = "funds_released"
	EventRequestFulfilled EventType = "request_fulfilled"
	EventRequestExpired   EventType = "request_expired"
	EventRequestCancelled EventType = "request_cancelled"
	EventRequestMined     EventType = "request_mined"
	EventRequestConfirmed EventType = "request_confirmed"
	EventRequestReorged   EventType = "request_reorged"
)

const DEFAULT_EVENTS_LIMIT = 100

// Event is one row of an account's append-only event stream. Balance is the
// account's balance right after the mutation that produced the event.
type Event struct {
	ID                   int64           `json:"id"`
	AccountID            int64           `json:"account_id"`
	Type                 EventType       `json:"type"`
	Height               uint64          `json:"height"`
	OutputID             *int64          `json:"output_id,omitempty"`
	InputID              *int64          `json:"input_id,omitempty"`
	BalanceChangeID      *int64          `json:"balance_change_id,omitempty"`
	PendingTransactionID string          `json:"pending_transaction_id,omitempty"`
	Payload              json.RawMessage `json:"payload"`
	Balance              Balance         `json:"balance"`
	CreatedAt            time.Time       `json:"created_at"`
}

// appendEvent stores ev with the current balance snapshot; it is published after commit.
func (tx *Tx) appendEvent(ev *Event) error {
	bal, err := tx.accountBalance(ev.AccountID)
	if err != nil {
		return err
	}
	ev.Balance = *bal
	ev.CreatedAt = tx.now
	if ev.Payload == nil {
		ev.Payload = json.RawMessage("{}")
	}

	var reqID sql.NullString
	if ev.PendingTransactionID != "" {
		reqID = sql.NullString{String: ev.PendingTransactionID, Valid: true}
	}

	res, err := tx.exec(queryInsertEvent,
		ev.AccountID,
		string(ev.Type),
		ev.Height,
		toNullInt64(ev.OutputID),
		toNullInt64(ev.InputID),
		toNullInt64(ev.BalanceChangeID),
		reqID,
		string(ev.Payload),
		bal.Available,
		bal.Locked,
		bal.PendingIncoming,
		bal.PendingOutgoing,
		tx.now.Unix(),
	)
	if err != nil {
		return err
	}
	if ev.ID, err = res.LastInsertId(); err != nil {
		return err
	}

	tx.events = append(tx.events, ev)
	return nil
}

// AppendEvent is appendEvent for callers outside the package that mutate through Tx.
func (tx *Tx) AppendEvent(ev *Event) error {
	return tx.appendEvent(ev)
}

// EventsAfter returns up to limit events of the account with id > afterID.
func (l *Ledger) EventsAfter(ctx context.Context, accountID, afterID int64, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = DEFAULT_EVENTS_LIMIT
	}

	var events []*Event
	err := l.View(ctx, func(tx *Tx) error {
		rows, err := tx.query(queryGetEventsAfter, accountID, afterID, limit)
		if err != nil {
			return err
		}
		defer rows.Close()

		events = []*Event{}
		for rows.Next() {
			var (
				ev                       Event
				typ, payload             string
				outID, inID, bcID        sql.NullInt64
				reqID                    sql.NullString
				avail, locked, pIn, pOut int64
				height, createdAt        int64
			)
			if err := rows.Scan(&ev.ID, &ev.AccountID, &typ, &height, &outID, &inID, &bcID, &reqID,
				&payload, &avail, &locked, &pIn, &pOut, &createdAt); err != nil {
				return err
			}
			ev.Type = EventType(typ)
			ev.Height = uint64(height)
			ev.OutputID = nullInt64(outID)
			ev.InputID = nullInt64(inID)
			ev.BalanceChangeID = nullInt64(bcID)
			ev.PendingTransactionID = reqID.String
			ev.Payload = json.RawMessage(payload)
			ev.Balance = Balance{
				AccountID:       ev.AccountID,
				Available:       uint64(avail),
				Locked:          uint64(locked),
				PendingIncoming: uint64(pIn),
				PendingOutgoing: uint64(pOut),
			}
			ev.CreatedAt = time.Unix(createdAt, 0)
			events = append(events, &ev)
		}
		return rows.Err()
	})
	return events, err
}

// LastEventID is the id of the account's newest event, 0 when it has none.
func (l *Ledger) LastEventID(ctx context.Context, accountID int64) (int64, error) {
	var id int64
	err := l.View(ctx, func(tx *Tx) error {
		var err error
		id, err = tx.queryInt64(queryGetLastEventId, accountID)
		return err
	})
	return id, err
}

func mustPayload(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		// payloads are plain structs of strings and integers
		panic(err)
	}
	return b
}

type outputPayload struct {
	Hash        string `json:"output_hash"`
	Value       uint64 `json:"value"`
	MinedHeight uint64 `json:"mined_height"`
}

func outputEventPayload(o *Output) json.RawMessage {
	return mustPayload(outputPayload{Hash: o.Hash.String(), Value: o.Value, MinedHeight: o.MinedHeight})
}

type balanceChangePayloadT struct {
	Description  string `json:"description"`
	Credit       uint64 `json:"credit"`
	Debit        uint64 `json:"debit"`
	IsReversal   bool   `json:"is_reversal"`
	ReversalOfID *int64 `json:"reversal_of_id,omitempty"`
}

func balanceChangePayload(bc *BalanceChange) json.RawMessage {
	return mustPayload(balanceChangePayloadT{
		Description:  bc.Description,
		Credit:       bc.Credit,
		Debit:        bc.Debit,
		IsReversal:   bc.IsReversal,
		ReversalOfID: bc.ReversalOfID,
	})
}

type rollbackPayload struct {
	DivergenceHeight        uint64   `json:"divergence_height"`
	Reason                  string   `json:"reason"`
	BlocksRolledBack        int      `json:"blocks_rolled_back"`
	OutputsDeleted          int      `json:"outputs_deleted"`
	InputsDeleted           int      `json:"inputs_deleted"`
	ChangesReversed         int      `json:"changes_reversed"`
	RequestsCancelled       []string `json:"requests_cancelled,omitempty"`
	RequestsReorged         []string `json:"requests_reorged,omitempty"`
	TransactionsReorganized []string `json:"transactions_reorganized,omitempty"`
}

type blockRolledBackPayload struct {
	Height    uint64 `json:"height"`
	BlockHash string `json:"block_hash"`
}

type outputRolledBackPayload struct {
	Hash             string `json:"output_hash"`
	Value            uint64 `json:"value"`
	OriginalHeight   uint64 `json:"original_block_height"`
	RolledBackHeight uint64 `json:"rolled_back_at_height"`
	LockedByRequest  string `json:"locked_by_request_id,omitempty"`
}

type requestPayload struct {
	Amount          uint64  `json:"amount"`
	TotalValue      uint64  `json:"total_value"`
	Status          string  `json:"status"`
	MinedHeight     *uint64 `json:"mined_height,omitempty"`
	ConfirmedHeight *uint64 `json:"confirmed_height,omitempty"`
}

// RequestPayload is the payload of lock lifecycle events.
func RequestPayload(req *PendingTransaction) json.RawMessage {
	return mustPayload(requestPayload{
		Amount:          req.Amount,
		TotalValue:      req.TotalValue,
		Status:          string(req.Status),
		MinedHeight:     req.MinedHeight,
		ConfirmedHeight: req.ConfirmedHeight,
	})
}
