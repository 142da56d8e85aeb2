package ledger

import (
	"context"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	logger "github.com/sirupsen/logrus"
)

// ApplyBlock applies one block's effects for an account and advances its resume
// height, all in one transaction. Blocks at or below the resume height are
// ignored. Any integrity violation aborts the whole block.
func (l *Ledger) ApplyBlock(ctx context.Context, accountID int64, eff *BlockEffects) (*ApplyResult, error) {
	var res *ApplyResult
	err := l.Update(ctx, func(tx *Tx) error {
		var err error
		res, err = tx.ApplyBlock(accountID, eff)
		return err
	})
	if err != nil {
		return nil, err
	}

	if res.Applied {
		logger.WithFields(logger.Fields{
			"account_id": accountID,
			"height":     eff.Height,
			"outputs":    res.Outputs,
			"inputs":     res.Inputs,
			"confirmed":  res.Confirmed,
		}).Debug("block applied")
	}
	return res, nil
}

func (tx *Tx) ApplyBlock(accountID int64, eff *BlockEffects) (*ApplyResult, error) {
	acct, err := tx.mustAccount(accountID)
	if err != nil {
		return nil, err
	}

	if eff.Height <= acct.ResumeHeight {
		return &ApplyResult{}, nil
	}
	if eff.Height != acct.ResumeHeight+1 {
		return nil, &BlockOrderError{acct.ID, acct.ResumeHeight, eff.Height, ErrNonContiguousBlock}
	}
	tip, ok, err := tx.GetScannedTip(acct.ID, acct.ResumeHeight)
	if err != nil {
		return nil, err
	}
	if ok && tip.Hash != eff.PrevHash {
		return nil, &BlockOrderError{acct.ID, acct.ResumeHeight, eff.Height, ErrChainDiscontinuity}
	}

	res := &ApplyResult{Applied: true}
	var created, spent []*Output
	touched := []string{}
	seen := map[string]struct{}{}

	for _, det := range eff.Outputs {
		out, err := tx.applyOutput(acct.ID, eff, det.Hash, det.Value)
		if err != nil {
			return nil, err
		}
		if out != nil {
			res.Outputs++
			created = append(created, out)
		}
	}

	for _, det := range eff.Inputs {
		out, err := tx.applyInput(acct.ID, eff, det.OutputHash)
		if err != nil {
			return nil, err
		}
		res.Inputs++
		spent = append(spent, out)
		if reqID := out.LockedByRequestID; reqID != "" {
			if _, ok := seen[reqID]; !ok {
				seen[reqID] = struct{}{}
				touched = append(touched, reqID)
			}
		}
	}

	if err := tx.recordBlockActivity(acct.ID, eff.Height, created, spent); err != nil {
		return nil, err
	}

	n, err := tx.confirmOutputs(acct.ID, eff.Height, eff.Hash)
	if err != nil {
		return nil, err
	}
	res.Confirmed = n

	for _, reqID := range touched {
		if err := tx.fulfillIfSpent(acct.ID, reqID, eff.Height); err != nil {
			return nil, err
		}
	}
	if err := tx.confirmRequests(acct.ID, eff.Height); err != nil {
		return nil, err
	}
	if err := tx.confirmDisplayed(acct.ID, eff.Height); err != nil {
		return nil, err
	}

	if err := tx.insertScannedTip(acct.ID, eff.Height, eff.Hash); err != nil {
		return nil, err
	}
	if err := tx.pruneScannedTips(acct.ID, eff.Height); err != nil {
		return nil, err
	}
	if err := tx.setResumeHeight(acct.ID, eff.Height); err != nil {
		return nil, err
	}
	return res, nil
}

// applyOutput returns the inserted output, or nil when a live row with the
// same hash already belongs to the account.
func (tx *Tx) applyOutput(accountID int64, eff *BlockEffects, hash chainhash.Hash, value uint64) (*Output, error) {
	existing, ok, err := tx.GetLiveOutputByHash(hash)
	if err != nil {
		return nil, err
	}
	if ok {
		if existing.AccountID != accountID {
			return nil, newIntegrityError(accountID, eff.Height,
				"output %s already belongs to account %d", hash, existing.AccountID)
		}
		return nil, nil
	}

	if value > MaxValue {
		return nil, newIntegrityError(accountID, eff.Height, "output %s value %d: %v", hash, value, ErrValueOverflow)
	}

	id, err := tx.insertOutput(accountID, hash, value, eff.Height, eff.Hash)
	if err != nil {
		return nil, err
	}
	if err := tx.resolvePendingOutput(accountID, hash, eff.Height); err != nil {
		return nil, err
	}

	out, _, err := tx.GetOutputByID(id)
	if err != nil {
		return nil, err
	}
	return out, tx.appendEvent(&Event{
		AccountID: accountID,
		Type:      EventOutputDetected,
		Height:    eff.Height,
		OutputID:  &id,
		Payload:   outputEventPayload(out),
	})
}

// applyInput records the spend of one of the account's outputs. It returns
// the output as it was before the spend, LockedByRequestID included.
func (tx *Tx) applyInput(accountID int64, eff *BlockEffects, outputHash chainhash.Hash) (*Output, error) {
	out, ok, err := tx.GetLiveOutputByHash(outputHash)
	if err != nil {
		return nil, err
	}
	if !ok || out.AccountID != accountID {
		return nil, newIntegrityError(accountID, eff.Height, "input spends unknown output %s", outputHash)
	}
	if _, spent, err := tx.GetLiveInputByOutput(out.ID); err != nil {
		return nil, err
	} else if spent || out.Status == Spent {
		return nil, newIntegrityError(accountID, eff.Height, "output %s spent twice", outputHash)
	}

	inID, err := tx.insertInput(accountID, out.ID, eff.Height, eff.Hash)
	if err != nil {
		return nil, err
	}

	// an output spent before it confirmed is credited here so the debit has a counterpart
	if !out.IsConfirmed() {
		credit, err := tx.appendCredit(out, eff.Height, "output spent before confirmation")
		if err != nil {
			return nil, err
		}
		if credit != nil {
			if err := tx.appendEvent(&Event{
				AccountID:       accountID,
				Type:            EventBalanceChange,
				Height:          eff.Height,
				OutputID:        &out.ID,
				BalanceChangeID: &credit.ID,
				Payload:         balanceChangePayload(credit),
			}); err != nil {
				return nil, err
			}
		}
	}

	if err := tx.setOutputSpent(out.ID); err != nil {
		return nil, err
	}
	if err := tx.resolvePendingInput(accountID, out.ID, eff.Height); err != nil {
		return nil, err
	}

	debit := &BalanceChange{
		AccountID:       accountID,
		CausedByInputID: &inID,
		Description:     "output spent",
		Debit:           out.Value,
		EffectiveHeight: eff.Height,
		EffectiveDate:   tx.now,
	}
	if _, err := tx.insertBalanceChange(debit); err != nil {
		return nil, err
	}

	if err := tx.appendEvent(&Event{
		AccountID: accountID,
		Type:      EventInputDetected,
		Height:    eff.Height,
		OutputID:  &out.ID,
		InputID:   &inID,
		Payload:   outputEventPayload(out),
	}); err != nil {
		return nil, err
	}
	if err := tx.appendEvent(&Event{
		AccountID:       accountID,
		Type:            EventBalanceChange,
		Height:          eff.Height,
		InputID:         &inID,
		BalanceChangeID: &debit.ID,
		Payload:         balanceChangePayload(debit),
	}); err != nil {
		return nil, err
	}

	return out, nil
}

// confirmOutputs settles every output buried under the confirmation depth at height.
func (tx *Tx) confirmOutputs(accountID int64, height uint64, hash chainhash.Hash) (int, error) {
	depth := tx.l.cfg.ConfirmationDepth
	if height < depth {
		return 0, nil
	}

	outs, err := tx.getUnconfirmedOutputs(accountID, height-depth)
	if err != nil {
		return 0, err
	}

	for _, out := range outs {
		if err := tx.setOutputConfirmed(out.ID, height, hash); err != nil {
			return 0, err
		}
		if err := tx.appendEvent(&Event{
			AccountID: accountID,
			Type:      EventOutputConfirmed,
			Height:    height,
			OutputID:  &out.ID,
			Payload:   outputEventPayload(out),
		}); err != nil {
			return 0, err
		}

		credit, err := tx.appendCredit(out, height, "output confirmed")
		if err != nil {
			return 0, err
		}
		if credit == nil {
			continue
		}
		if err := tx.appendEvent(&Event{
			AccountID:       accountID,
			Type:            EventBalanceChange,
			Height:          height,
			OutputID:        &out.ID,
			BalanceChangeID: &credit.ID,
			Payload:         balanceChangePayload(credit),
		}); err != nil {
			return 0, err
		}
	}
	return len(outs), nil
}

// fulfillIfSpent marks a request mined once none of its outputs is still
// locked. A request still Pending at that point is Fulfilled first.
func (tx *Tx) fulfillIfSpent(accountID int64, requestID string, height uint64) error {
	req, ok, err := tx.GetPendingTransaction(requestID)
	if err != nil || !ok || req.MinedHeight != nil {
		return err
	}
	if req.Status != RequestPending && req.Status != RequestFulfilled {
		return nil
	}
	n, err := tx.countLockedByRequest(requestID)
	if err != nil || n > 0 {
		return err
	}

	if req.Status == RequestPending {
		if err := tx.SetRequestStatus(req, RequestFulfilled); err != nil {
			return err
		}
		logTx(accountID).WithField("request", requestID).Info("request fulfilled on chain")
		if err := tx.appendEvent(&Event{
			AccountID:            accountID,
			Type:                 EventRequestFulfilled,
			Height:               height,
			PendingTransactionID: requestID,
			Payload:              RequestPayload(req),
		}); err != nil {
			return err
		}
	}

	if err := tx.setRequestMined(req, height); err != nil {
		return err
	}
	return tx.appendEvent(&Event{
		AccountID:            accountID,
		Type:                 EventRequestMined,
		Height:               height,
		PendingTransactionID: requestID,
		Payload:              RequestPayload(req),
	})
}

// confirmRequests settles every mined request buried under the confirmation depth at height.
func (tx *Tx) confirmRequests(accountID int64, height uint64) error {
	depth := tx.l.cfg.ConfirmationDepth
	if height < depth {
		return nil
	}
	reqs, err := tx.getPendingTransactions(queryGetRequestsToConfirm, accountID, height-depth)
	if err != nil {
		return err
	}
	for _, req := range reqs {
		if err := tx.setRequestConfirmed(req, height); err != nil {
			return err
		}
		if err := tx.appendEvent(&Event{
			AccountID:            accountID,
			Type:                 EventRequestConfirmed,
			Height:               height,
			PendingTransactionID: req.ID,
			Payload:              RequestPayload(req),
		}); err != nil {
			return err
		}
	}
	return nil
}
