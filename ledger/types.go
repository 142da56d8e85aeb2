package ledger

import (
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/TEENet-io/watchwallet/chainsource"
	"github.com/TEENet-io/watchwallet/common"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// MaxValue is the largest output value the ledger stores; value columns are signed 64 bit.
const MaxValue uint64 = math.MaxInt64

type AccountKind string

const (
	KindParent AccountKind = "parent"
	KindChild  AccountKind = "child"
)

type OutputStatus string

const (
	Unspent OutputStatus = "unspent"
	Locked  OutputStatus = "locked"
	Spent   OutputStatus = "spent"
)

type RequestStatus string

const (
	RequestPending   RequestStatus = "pending"
	RequestFulfilled RequestStatus = "fulfilled"
	RequestExpired   RequestStatus = "expired"
	RequestCancelled RequestStatus = "cancelled"
)

// ChildInfo is set only on child accounts.
type ChildInfo struct {
	ParentID int64
	Index    uint32
}

// Account is one record for both kinds; Child is nil for parents.
type Account struct {
	ID             int64
	Name           string
	Kind           AccountKind
	ViewKey        []byte
	PublicKey      []byte
	Child          *ChildInfo
	BirthdayHeight uint64
	ResumeHeight   uint64
	CreatedAt      time.Time
}

// WatchKey turns the stored view key into a detector key.
func (a *Account) WatchKey() (chainsource.WatchKey, error) {
	key, err := chainsource.ParseViewKey(a.ViewKey)
	if err != nil {
		return chainsource.WatchKey{}, fmt.Errorf("account %s: %w", a.Name, err)
	}
	return chainsource.WatchKey{AccountID: a.ID, ViewKey: key}, nil
}

func (a *Account) PubKey() (*btcec.PublicKey, error) {
	return btcec.ParsePubKey(a.PublicKey)
}

type Output struct {
	ID                   int64
	AccountID            int64
	Hash                 chainhash.Hash
	Value                uint64
	MinedHeight          uint64
	MinedHash            chainhash.Hash
	Status               OutputStatus
	LockedAt             *time.Time
	LockedByRequestID    string
	ConfirmedHeight      *uint64
	ConfirmedHash        *chainhash.Hash
	CreatedAt            time.Time
	DeletedAt            *time.Time
	DeletedInBlockHeight *uint64
}

func (o *Output) IsConfirmed() bool { return o.ConfirmedHeight != nil }
func (o *Output) IsDeleted() bool   { return o.DeletedAt != nil }

type Input struct {
	ID                   int64
	AccountID            int64
	OutputID             int64
	MinedHeight          uint64
	MinedHash            chainhash.Hash
	CreatedAt            time.Time
	DeletedAt            *time.Time
	DeletedInBlockHeight *uint64
}

type BalanceChange struct {
	ID               int64
	AccountID        int64
	CausedByOutputID *int64
	CausedByInputID  *int64
	Description      string
	Credit           uint64
	Debit            uint64
	EffectiveHeight  uint64
	EffectiveDate    time.Time
	IsReversal       bool
	ReversalOfID     *int64
	IsReversed       bool
}

// PendingTransaction is a lock request. MinedHeight is set once every output
// it locked is spent on chain, ConfirmedHeight once that spend is buried under
// the confirmation depth; a rollback below MinedHeight clears both.
type PendingTransaction struct {
	ID              string
	AccountID       int64
	IdempotencyKey  string
	Amount          uint64
	TotalValue      uint64
	Status          RequestStatus
	ExpiresAt       time.Time
	MinedHeight     *uint64
	ConfirmedHeight *uint64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// TTL is the lifetime the request was created with.
func (r *PendingTransaction) TTL() time.Duration {
	return r.ExpiresAt.Sub(r.CreatedAt)
}

type ScannedTip struct {
	Height uint64
	Hash   chainhash.Hash
}

// Balance buckets of one account.
// Available and Locked hold confirmed outputs only; LedgerTotal is the
// credit minus debit sum of the balance change ledger.
type Balance struct {
	AccountID       int64  `json:"account_id"`
	Available       uint64 `json:"available"`
	Locked          uint64 `json:"locked"`
	PendingIncoming uint64 `json:"pending_incoming"`
	PendingOutgoing uint64 `json:"pending_outgoing"`
	LedgerTotal     int64  `json:"ledger_total"`
}

func (b *Balance) add(o *Balance) {
	b.Available += o.Available
	b.Locked += o.Locked
	b.PendingIncoming += o.PendingIncoming
	b.PendingOutgoing += o.PendingOutgoing
	b.LedgerTotal += o.LedgerTotal
}

// BlockEffects is what one block does to one account.
type BlockEffects struct {
	Height   uint64
	Hash     chainhash.Hash
	PrevHash chainhash.Hash
	Outputs  []chainsource.DetectedOutput
	Inputs   []chainsource.DetectedInput
}

// NewBlockEffects pairs a block with the account's detection (which may be nil).
func NewBlockEffects(b *chainsource.Block, det *chainsource.AccountDetection) *BlockEffects {
	eff := &BlockEffects{Height: b.Height, Hash: b.Hash, PrevHash: b.PrevHash}
	if det != nil {
		eff.Outputs = det.Outputs
		eff.Inputs = det.Inputs
	}
	return eff
}

// ApplyResult reports what ApplyBlock did.
type ApplyResult struct {
	Applied   bool // false when the block was at or below the resume height
	Outputs   int
	Inputs    int
	Confirmed int
}

type RollbackResult struct {
	AccountID               int64
	DivergenceHeight        uint64
	ResumeHeight            uint64
	BlocksRolledBack        int
	OutputsDeleted          int
	InputsDeleted           int
	ChangesReversed         int
	RequestsCancelled       []string
	RequestsReorged         []string // mined requests waiting to be mined again
	TransactionsReorganized []string // displayed transactions marked reorganized
}

// sql forms

type sqlAccount struct {
	ID              int64
	Name            string
	Kind            string
	ViewKey         []byte
	PublicKey       []byte
	ParentAccountID sql.NullInt64
	DerivationIndex sql.NullInt64
	BirthdayHeight  int64
	ResumeHeight    int64
	CreatedAt       int64
}

func (s *sqlAccount) fields() []interface{} {
	return []interface{}{&s.ID, &s.Name, &s.Kind, &s.ViewKey, &s.PublicKey, &s.ParentAccountID,
		&s.DerivationIndex, &s.BirthdayHeight, &s.ResumeHeight, &s.CreatedAt}
}

func (s *sqlAccount) decode() (*Account, error) {
	a := &Account{
		ID:             s.ID,
		Name:           s.Name,
		Kind:           AccountKind(s.Kind),
		ViewKey:        s.ViewKey,
		PublicKey:      s.PublicKey,
		BirthdayHeight: uint64(s.BirthdayHeight),
		ResumeHeight:   uint64(s.ResumeHeight),
		CreatedAt:      time.Unix(s.CreatedAt, 0),
	}
	switch a.Kind {
	case KindParent:
	case KindChild:
		if !s.ParentAccountID.Valid || !s.DerivationIndex.Valid {
			return nil, fmt.Errorf("child account %s misses parent fields", s.Name)
		}
		a.Child = &ChildInfo{ParentID: s.ParentAccountID.Int64, Index: uint32(s.DerivationIndex.Int64)}
	default:
		return nil, fmt.Errorf("unknown account kind %q", s.Kind)
	}
	return a, nil
}

type sqlOutput struct {
	ID                   int64
	AccountID            int64
	Hash                 string
	Value                int64
	MinedHeight          int64
	MinedHash            string
	Status               string
	LockedAt             sql.NullInt64
	LockedByRequestID    sql.NullString
	ConfirmedHeight      sql.NullInt64
	ConfirmedHash        sql.NullString
	CreatedAt            int64
	DeletedAt            sql.NullInt64
	DeletedInBlockHeight sql.NullInt64
}

func (s *sqlOutput) fields() []interface{} {
	return []interface{}{&s.ID, &s.AccountID, &s.Hash, &s.Value, &s.MinedHeight, &s.MinedHash, &s.Status,
		&s.LockedAt, &s.LockedByRequestID, &s.ConfirmedHeight, &s.ConfirmedHash, &s.CreatedAt, &s.DeletedAt,
		&s.DeletedInBlockHeight}
}

func (s *sqlOutput) decode() (*Output, error) {
	o := &Output{
		ID:                   s.ID,
		AccountID:            s.AccountID,
		Value:                uint64(s.Value),
		MinedHeight:          uint64(s.MinedHeight),
		Status:               OutputStatus(s.Status),
		LockedByRequestID:    s.LockedByRequestID.String,
		CreatedAt:            time.Unix(s.CreatedAt, 0),
		LockedAt:             nullTime(s.LockedAt),
		DeletedAt:            nullTime(s.DeletedAt),
		ConfirmedHeight:      nullUint64(s.ConfirmedHeight),
		DeletedInBlockHeight: nullUint64(s.DeletedInBlockHeight),
	}

	var err error
	if o.Hash, err = common.HashFromStr(s.Hash); err != nil {
		return nil, err
	}
	if o.MinedHash, err = common.HashFromStr(s.MinedHash); err != nil {
		return nil, err
	}
	if s.ConfirmedHash.Valid {
		h, err := common.HashFromStr(s.ConfirmedHash.String)
		if err != nil {
			return nil, err
		}
		o.ConfirmedHash = &h
	}
	return o, nil
}

type sqlInput struct {
	ID                   int64
	AccountID            int64
	OutputID             int64
	MinedHeight          int64
	MinedHash            string
	CreatedAt            int64
	DeletedAt            sql.NullInt64
	DeletedInBlockHeight sql.NullInt64
}

func (s *sqlInput) fields() []interface{} {
	return []interface{}{&s.ID, &s.AccountID, &s.OutputID, &s.MinedHeight, &s.MinedHash, &s.CreatedAt,
		&s.DeletedAt, &s.DeletedInBlockHeight}
}

func (s *sqlInput) decode() (*Input, error) {
	h, err := common.HashFromStr(s.MinedHash)
	if err != nil {
		return nil, err
	}
	return &Input{
		ID:                   s.ID,
		AccountID:            s.AccountID,
		OutputID:             s.OutputID,
		MinedHeight:          uint64(s.MinedHeight),
		MinedHash:            h,
		CreatedAt:            time.Unix(s.CreatedAt, 0),
		DeletedAt:            nullTime(s.DeletedAt),
		DeletedInBlockHeight: nullUint64(s.DeletedInBlockHeight),
	}, nil
}

type sqlBalanceChange struct {
	ID               int64
	AccountID        int64
	CausedByOutputID sql.NullInt64
	CausedByInputID  sql.NullInt64
	Description      string
	Credit           int64
	Debit            int64
	EffectiveHeight  int64
	EffectiveDate    int64
	IsReversal       bool
	ReversalOfID     sql.NullInt64
	IsReversed       bool
}

func (s *sqlBalanceChange) fields() []interface{} {
	return []interface{}{&s.ID, &s.AccountID, &s.CausedByOutputID, &s.CausedByInputID, &s.Description,
		&s.Credit, &s.Debit, &s.EffectiveHeight, &s.EffectiveDate, &s.IsReversal, &s.ReversalOfID, &s.IsReversed}
}

func (s *sqlBalanceChange) decode() *BalanceChange {
	return &BalanceChange{
		ID:               s.ID,
		AccountID:        s.AccountID,
		CausedByOutputID: nullInt64(s.CausedByOutputID),
		CausedByInputID:  nullInt64(s.CausedByInputID),
		Description:      s.Description,
		Credit:           uint64(s.Credit),
		Debit:            uint64(s.Debit),
		EffectiveHeight:  uint64(s.EffectiveHeight),
		EffectiveDate:    time.Unix(s.EffectiveDate, 0),
		IsReversal:       s.IsReversal,
		ReversalOfID:     nullInt64(s.ReversalOfID),
		IsReversed:       s.IsReversed,
	}
}

type sqlPendingTransaction struct {
	ID              string
	AccountID       int64
	IdempotencyKey  string
	Amount          int64
	TotalValue      int64
	Status          string
	ExpiresAt       int64
	MinedHeight     sql.NullInt64
	ConfirmedHeight sql.NullInt64
	CreatedAt       int64
	UpdatedAt       int64
}

func (s *sqlPendingTransaction) fields() []interface{} {
	return []interface{}{&s.ID, &s.AccountID, &s.IdempotencyKey, &s.Amount, &s.TotalValue, &s.Status,
		&s.ExpiresAt, &s.MinedHeight, &s.ConfirmedHeight, &s.CreatedAt, &s.UpdatedAt}
}

func (s *sqlPendingTransaction) decode() *PendingTransaction {
	return &PendingTransaction{
		ID:              s.ID,
		AccountID:       s.AccountID,
		IdempotencyKey:  s.IdempotencyKey,
		Amount:          uint64(s.Amount),
		TotalValue:      uint64(s.TotalValue),
		Status:          RequestStatus(s.Status),
		ExpiresAt:       time.Unix(s.ExpiresAt, 0),
		MinedHeight:     nullUint64(s.MinedHeight),
		ConfirmedHeight: nullUint64(s.ConfirmedHeight),
		CreatedAt:       time.Unix(s.CreatedAt, 0),
		UpdatedAt:       time.Unix(s.UpdatedAt, 0),
	}
}

func nullTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0)
	return &t
}

func nullUint64(v sql.NullInt64) *uint64 {
	if !v.Valid {
		return nil
	}
	u := uint64(v.Int64)
	return &u
}

func nullInt64(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	i := v.Int64
	return &i
}

func toNullInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}
