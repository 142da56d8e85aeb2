package ledger

import (
	"context"
	"fmt"

	logger "github.com/sirupsen/logrus"
)

// Rollback undoes everything the account recorded at or above height from
// and rewinds its resume height to from-1. Rows are soft-deleted and balance
// changes reversed, never removed. Height 0 is treated as 1.
func (l *Ledger) Rollback(ctx context.Context, accountID int64, from uint64, reason string) (*RollbackResult, error) {
	var res *RollbackResult
	err := l.Update(ctx, func(tx *Tx) error {
		var err error
		res, err = tx.Rollback(accountID, from, reason)
		return err
	})
	if err != nil {
		return nil, err
	}

	logger.WithFields(logger.Fields{
		"account_id": accountID,
		"from":       res.DivergenceHeight,
		"resume":     res.ResumeHeight,
		"outputs":    res.OutputsDeleted,
		"inputs":     res.InputsDeleted,
		"reversed":   res.ChangesReversed,
		"cancelled":  len(res.RequestsCancelled),
		"reorged":    len(res.RequestsReorged),
		"blocks":     res.BlocksRolledBack,
		"reason":     reason,
	}).Warn("account rolled back")
	return res, nil
}

// Rescan forces a rollback to from so the scanner applies the range again.
func (l *Ledger) Rescan(ctx context.Context, accountID int64, from uint64) (*RollbackResult, error) {
	return l.Rollback(ctx, accountID, from, "rescan")
}

func (tx *Tx) Rollback(accountID int64, from uint64, reason string) (*RollbackResult, error) {
	if from == 0 {
		from = 1
	}
	acct, err := tx.mustAccount(accountID)
	if err != nil {
		return nil, err
	}

	res := &RollbackResult{
		AccountID:               acct.ID,
		DivergenceHeight:        from,
		ResumeHeight:            acct.ResumeHeight,
		RequestsCancelled:       []string{},
		RequestsReorged:         []string{},
		TransactionsReorganized: []string{},
	}
	now := tx.now.Unix()

	// requests holding outputs that disappear cannot be fulfilled any more
	reqIDs, err := tx.requestsLockingFrom(acct.ID, from)
	if err != nil {
		return nil, err
	}
	for _, id := range reqIDs {
		cancelled, err := tx.cancelRequest(acct.ID, id, from)
		if err != nil {
			return nil, err
		}
		if cancelled {
			res.RequestsCancelled = append(res.RequestsCancelled, id)
		}
	}

	if err := tx.reopenProjections(acct.ID, from); err != nil {
		return nil, err
	}

	// spends mined in the rolled back range are back in flight
	reorged, err := tx.reopenMinedRequests(acct.ID, from)
	if err != nil {
		return nil, err
	}
	for _, req := range reorged {
		res.RequestsReorged = append(res.RequestsReorged, req.ID)
	}
	if _, err := tx.exec(queryUnconfirmRequestsFrom, now, acct.ID, from); err != nil {
		return nil, err
	}

	inputs, err := tx.getInputs(queryGetLiveInputsFrom, acct.ID, from)
	if err != nil {
		return nil, err
	}
	for _, in := range inputs {
		if _, err := tx.exec(querySoftDeleteInput, now, from, in.ID); err != nil {
			return nil, err
		}
		if err := tx.restoreSpentOutput(in.OutputID); err != nil {
			return nil, err
		}
	}
	res.InputsDeleted = len(inputs)

	outputs, err := tx.getOutputs(queryGetLiveOutputsFrom, acct.ID, from)
	if err != nil {
		return nil, err
	}
	for _, out := range outputs {
		if _, err := tx.exec(querySoftDeleteOutput, now, from, out.ID); err != nil {
			return nil, err
		}
		id := out.ID
		if err := tx.appendEvent(&Event{
			AccountID:            acct.ID,
			Type:                 EventOutputRolledBack,
			Height:               out.MinedHeight,
			OutputID:             &id,
			PendingTransactionID: out.LockedByRequestID,
			Payload: mustPayload(outputRolledBackPayload{
				Hash:             out.Hash.String(),
				Value:            out.Value,
				OriginalHeight:   out.MinedHeight,
				RolledBackHeight: from,
				LockedByRequest:  out.LockedByRequestID,
			}),
		}); err != nil {
			return nil, err
		}
	}
	res.OutputsDeleted = len(outputs)

	if _, err := tx.exec(queryUnconfirmFrom, acct.ID, from); err != nil {
		return nil, err
	}

	changes, err := tx.getBalanceChanges(queryGetReversibleFromHeight, acct.ID, from)
	if err != nil {
		return nil, err
	}
	for _, bc := range changes {
		if _, err := tx.reverse(bc, fmt.Sprintf("rollback from %d: %s", from, reason)); err != nil {
			return nil, err
		}
	}
	res.ChangesReversed = len(changes)

	tips, err := tx.getScannedTipsFrom(acct.ID, from)
	if err != nil {
		return nil, err
	}
	for _, tip := range tips {
		if err := tx.appendEvent(&Event{
			AccountID: acct.ID,
			Type:      EventBlockRolledBack,
			Height:    tip.Height,
			Payload:   mustPayload(blockRolledBackPayload{Height: tip.Height, BlockHash: tip.Hash.String()}),
		}); err != nil {
			return nil, err
		}
	}
	res.BlocksRolledBack = len(tips)
	if _, err := tx.deleteTipsFrom(acct.ID, from); err != nil {
		return nil, err
	}

	if res.TransactionsReorganized, err = tx.reorganizeDisplayed(acct.ID, from); err != nil {
		return nil, err
	}
	for _, req := range reorged {
		if _, err := tx.RecordBroadcast(req); err != nil {
			return nil, err
		}
	}

	if acct.ResumeHeight >= from {
		res.ResumeHeight = from - 1
		if err := tx.setResumeHeight(acct.ID, res.ResumeHeight); err != nil {
			return nil, err
		}
	}

	if err := tx.appendEvent(&Event{
		AccountID: acct.ID,
		Type:      EventRollbackApplied,
		Height:    from,
		Payload: mustPayload(rollbackPayload{
			DivergenceHeight:        from,
			Reason:                  reason,
			BlocksRolledBack:        res.BlocksRolledBack,
			OutputsDeleted:          res.OutputsDeleted,
			InputsDeleted:           res.InputsDeleted,
			ChangesReversed:         res.ChangesReversed,
			RequestsCancelled:       res.RequestsCancelled,
			RequestsReorged:         res.RequestsReorged,
			TransactionsReorganized: res.TransactionsReorganized,
		}),
	}); err != nil {
		return nil, err
	}
	return res, nil
}

// reopenMinedRequests clears the mined state of requests mined at or above
// from. Their surviving outputs whose spend is undone get an open pending
// input again so they stay locked until the spend is mined again or expires.
func (tx *Tx) reopenMinedRequests(accountID int64, from uint64) ([]*PendingTransaction, error) {
	reqs, err := tx.getPendingTransactions(queryGetRequestsMinedFrom, accountID, from)
	if err != nil {
		return nil, err
	}

	for _, req := range reqs {
		ids, err := tx.queryIDs(queryGetRespentOutputsFrom, req.ID, from, from)
		if err != nil {
			return nil, err
		}
		expiresAt := tx.now.Add(req.TTL())
		for _, outputID := range ids {
			if err := tx.InsertPendingInput(accountID, req.ID, outputID, expiresAt); err != nil {
				return nil, err
			}
		}

		if err := tx.clearRequestMined(req); err != nil {
			return nil, err
		}
		logTx(accountID).WithFields(logger.Fields{
			"request": req.ID,
			"inputs":  len(ids),
		}).Warn("mined request reorganized out")
		if err := tx.appendEvent(&Event{
			AccountID:            accountID,
			Type:                 EventRequestReorged,
			Height:               from,
			PendingTransactionID: req.ID,
			Payload:              RequestPayload(req),
		}); err != nil {
			return nil, err
		}
	}
	return reqs, nil
}

func (tx *Tx) queryIDs(query string, args ...interface{}) ([]int64, error) {
	rows, err := tx.query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (tx *Tx) requestsLockingFrom(accountID int64, from uint64) ([]string, error) {
	rows, err := tx.query(queryGetRequestsLockingFrom, accountID, from)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// cancelRequest cancels a Pending request and unlocks its outputs.
func (tx *Tx) cancelRequest(accountID int64, requestID string, height uint64) (bool, error) {
	req, ok, err := tx.GetPendingTransaction(requestID)
	if err != nil || !ok || req.Status != RequestPending {
		return false, err
	}
	if _, err := tx.UnlockRequest(requestID); err != nil {
		return false, err
	}
	if err := tx.SetRequestStatus(req, RequestCancelled); err != nil {
		return false, err
	}
	return true, tx.appendEvent(&Event{
		AccountID:            accountID,
		Type:                 EventRequestCancelled,
		Height:               height,
		PendingTransactionID: requestID,
		Payload:              RequestPayload(req),
	})
}

// restoreSpentOutput undoes a spend. The output is Locked again while its
// request is Pending, or Fulfilled with the spend of this output still in
// flight. Otherwise it is Unspent.
func (tx *Tx) restoreSpentOutput(outputID int64) error {
	out, ok, err := tx.GetOutputByID(outputID)
	if err != nil {
		return err
	}
	if !ok || out.IsDeleted() {
		return nil
	}

	status := Unspent
	if out.LockedByRequestID != "" {
		req, ok, err := tx.GetPendingTransaction(out.LockedByRequestID)
		if err != nil {
			return err
		}
		switch {
		case !ok:
		case req.Status == RequestPending:
			status = Locked
		case req.Status == RequestFulfilled:
			open, err := tx.hasOpenPendingInput(req.ID, out.ID)
			if err != nil {
				return err
			}
			if open {
				status = Locked
			}
		}
	}

	s := string(status)
	_, err = tx.exec(queryRestoreSpentOutput, s, s, s, out.ID)
	return err
}
