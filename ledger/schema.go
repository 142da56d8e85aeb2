package ledger

// Timestamps are unix seconds. Rows of outputs and inputs are never deleted,
// a rollback sets deleted_at / deleted_in_block_height instead.
var (
	accountsTable = `CREATE TABLE IF NOT EXISTS accounts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		kind VARCHAR(8) NOT NULL,
		view_key BLOB NOT NULL,
		public_key BLOB NOT NULL,
		parent_account_id INTEGER REFERENCES accounts(id),
		derivation_index INTEGER,
		birthday_height BIGINT NOT NULL DEFAULT 0,
		resume_height BIGINT NOT NULL DEFAULT 0,
		created_at BIGINT NOT NULL,
		CONSTRAINT chk_name CHECK (name != ''),
		CONSTRAINT chk_kind CHECK (kind IN ('parent', 'child')),
		CONSTRAINT chk_kind_fields CHECK (
			(kind = 'parent' AND parent_account_id IS NULL AND derivation_index IS NULL) OR
			(kind = 'child' AND parent_account_id IS NOT NULL AND derivation_index IS NOT NULL)),
		CONSTRAINT chk_resume CHECK (resume_height >= 0)
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_accounts_child ON accounts (parent_account_id, derivation_index)
		WHERE kind = 'child';`

	outputsTable = `CREATE TABLE IF NOT EXISTS outputs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		account_id INTEGER NOT NULL REFERENCES accounts(id),
		output_hash CHAR(64) NOT NULL,
		value BIGINT NOT NULL,
		mined_height BIGINT NOT NULL,
		mined_hash CHAR(64) NOT NULL,
		status VARCHAR(8) NOT NULL DEFAULT 'unspent',
		locked_at BIGINT,
		locked_by_request_id TEXT,
		confirmed_height BIGINT,
		confirmed_hash CHAR(64),
		created_at BIGINT NOT NULL,
		deleted_at BIGINT,
		deleted_in_block_height BIGINT,
		CONSTRAINT chk_value CHECK (value >= 0),
		CONSTRAINT chk_status CHECK (status IN ('unspent', 'locked', 'spent')),
		CONSTRAINT chk_locked CHECK (status != 'locked' OR locked_by_request_id IS NOT NULL)
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_outputs_live_hash ON outputs (output_hash) WHERE deleted_at IS NULL;
	CREATE INDEX IF NOT EXISTS idx_outputs_account ON outputs (account_id, status);
	CREATE INDEX IF NOT EXISTS idx_outputs_request ON outputs (locked_by_request_id);`

	inputsTable = `CREATE TABLE IF NOT EXISTS inputs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		account_id INTEGER NOT NULL REFERENCES accounts(id),
		output_id INTEGER NOT NULL REFERENCES outputs(id),
		mined_height BIGINT NOT NULL,
		mined_hash CHAR(64) NOT NULL,
		created_at BIGINT NOT NULL,
		deleted_at BIGINT,
		deleted_in_block_height BIGINT
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_inputs_live_output ON inputs (output_id) WHERE deleted_at IS NULL;
	CREATE INDEX IF NOT EXISTS idx_inputs_account ON inputs (account_id, mined_height);`

	balanceChangesTable = `CREATE TABLE IF NOT EXISTS balance_changes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		account_id INTEGER NOT NULL REFERENCES accounts(id),
		caused_by_output_id INTEGER REFERENCES outputs(id),
		caused_by_input_id INTEGER REFERENCES inputs(id),
		description TEXT NOT NULL,
		balance_credit BIGINT NOT NULL DEFAULT 0,
		balance_debit BIGINT NOT NULL DEFAULT 0,
		effective_height BIGINT NOT NULL,
		effective_date BIGINT NOT NULL,
		is_reversal BOOLEAN NOT NULL DEFAULT FALSE,
		reversal_of_id INTEGER REFERENCES balance_changes(id),
		is_reversed BOOLEAN NOT NULL DEFAULT FALSE,
		CONSTRAINT chk_amounts CHECK (balance_credit >= 0 AND balance_debit >= 0),
		CONSTRAINT chk_reversal CHECK ((is_reversal = 0) = (reversal_of_id IS NULL))
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_balance_changes_reversal ON balance_changes (reversal_of_id)
		WHERE reversal_of_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_balance_changes_account ON balance_changes (account_id, effective_height);`

	pendingTransactionsTable = `CREATE TABLE IF NOT EXISTS pending_transactions (
		id CHAR(36) PRIMARY KEY NOT NULL,
		account_id INTEGER NOT NULL REFERENCES accounts(id),
		idempotency_key TEXT NOT NULL,
		amount BIGINT NOT NULL,
		total_value BIGINT NOT NULL,
		status VARCHAR(10) NOT NULL,
		expires_at BIGINT NOT NULL,
		mined_height BIGINT,
		confirmed_height BIGINT,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL,
		CONSTRAINT chk_amount CHECK (amount > 0),
		CONSTRAINT chk_mined CHECK (mined_height IS NOT NULL OR confirmed_height IS NULL),
		CONSTRAINT chk_status CHECK (status IN ('pending', 'fulfilled', 'expired', 'cancelled')),
		UNIQUE (account_id, idempotency_key)
	);
	CREATE INDEX IF NOT EXISTS idx_pending_transactions_status ON pending_transactions (status, expires_at);
	CREATE INDEX IF NOT EXISTS idx_pending_transactions_mined ON pending_transactions (account_id, mined_height);`

	pendingOutputsTable = `CREATE TABLE IF NOT EXISTS pending_outputs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		account_id INTEGER NOT NULL REFERENCES accounts(id),
		pending_transaction_id CHAR(36) NOT NULL REFERENCES pending_transactions(id),
		output_hash CHAR(64) NOT NULL,
		value BIGINT NOT NULL,
		status VARCHAR(8) NOT NULL DEFAULT 'pending',
		expires_at BIGINT NOT NULL,
		mined_height BIGINT,
		created_at BIGINT NOT NULL,
		CONSTRAINT chk_status CHECK (status IN ('pending', 'mined', 'expired'))
	);
	CREATE INDEX IF NOT EXISTS idx_pending_outputs_hash ON pending_outputs (output_hash);`

	pendingInputsTable = `CREATE TABLE IF NOT EXISTS pending_inputs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		account_id INTEGER NOT NULL REFERENCES accounts(id),
		pending_transaction_id CHAR(36) NOT NULL REFERENCES pending_transactions(id),
		output_id INTEGER NOT NULL REFERENCES outputs(id),
		status VARCHAR(8) NOT NULL DEFAULT 'pending',
		expires_at BIGINT NOT NULL,
		mined_height BIGINT,
		created_at BIGINT NOT NULL,
		CONSTRAINT chk_status CHECK (status IN ('pending', 'mined', 'expired'))
	);
	CREATE INDEX IF NOT EXISTS idx_pending_inputs_output ON pending_inputs (output_id);
	CREATE INDEX IF NOT EXISTS idx_pending_inputs_request ON pending_inputs (pending_transaction_id, output_id);`

	scannedTipBlocksTable = `CREATE TABLE IF NOT EXISTS scanned_tip_blocks (
		account_id INTEGER NOT NULL REFERENCES accounts(id),
		height BIGINT NOT NULL,
		hash CHAR(64) NOT NULL,
		created_at BIGINT NOT NULL,
		PRIMARY KEY (account_id, height)
	);`

	// one row per transaction as a user sees it; block_height is 0 while only broadcast
	displayedTransactionsTable = `CREATE TABLE IF NOT EXISTS displayed_transactions (
		id CHAR(36) PRIMARY KEY NOT NULL,
		account_id INTEGER NOT NULL REFERENCES accounts(id),
		direction VARCHAR(8) NOT NULL,
		status VARCHAR(12) NOT NULL,
		amount BIGINT NOT NULL,
		block_height BIGINT NOT NULL,
		pending_transaction_id CHAR(36),
		details TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL,
		CONSTRAINT chk_direction CHECK (direction IN ('incoming', 'outgoing')),
		CONSTRAINT chk_status CHECK (status IN ('pending', 'unconfirmed', 'confirmed', 'cancelled', 'reorganized'))
	);
	CREATE INDEX IF NOT EXISTS idx_displayed_account ON displayed_transactions (account_id, block_height);
	CREATE INDEX IF NOT EXISTS idx_displayed_request ON displayed_transactions (pending_transaction_id, status);`

	eventsTable = `CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		account_id INTEGER NOT NULL REFERENCES accounts(id),
		event_type VARCHAR(32) NOT NULL,
		height BIGINT NOT NULL,
		output_id INTEGER,
		input_id INTEGER,
		balance_change_id INTEGER,
		pending_transaction_id CHAR(36),
		payload TEXT NOT NULL,
		available BIGINT NOT NULL,
		locked BIGINT NOT NULL,
		pending_incoming BIGINT NOT NULL,
		pending_outgoing BIGINT NOT NULL,
		created_at BIGINT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_account ON events (account_id, id);`

	schema = accountsTable + outputsTable + inputsTable + balanceChangesTable +
		pendingTransactionsTable + pendingOutputsTable + pendingInputsTable +
		scannedTipBlocksTable + displayedTransactionsTable + eventsTable
)

// accounts
var (
	accountColumns = `id, name, kind, view_key, public_key, parent_account_id, derivation_index,
		birthday_height, resume_height, created_at`

	queryInsertAccount = `INSERT INTO accounts (name, kind, view_key, public_key, parent_account_id,
		derivation_index, birthday_height, resume_height, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);`
	queryGetAccountById      = `SELECT ` + accountColumns + ` FROM accounts WHERE id = ?;`
	queryGetAccountByName    = `SELECT ` + accountColumns + ` FROM accounts WHERE name = ?;`
	queryGetAccounts         = `SELECT ` + accountColumns + ` FROM accounts ORDER BY id ASC;`
	queryGetChildAccounts    = `SELECT ` + accountColumns + ` FROM accounts WHERE parent_account_id = ? ORDER BY derivation_index ASC;`
	querySetResumeHeight     = `UPDATE accounts SET resume_height = ? WHERE id = ?;`
	queryNextDerivationIndex = `SELECT COALESCE(MAX(derivation_index) + 1, 0) FROM accounts WHERE parent_account_id = ?;`
)

// outputs
var (
	outputColumns = `id, account_id, output_hash, value, mined_height, mined_hash, status, locked_at,
		locked_by_request_id, confirmed_height, confirmed_hash, created_at, deleted_at, deleted_in_block_height`

	queryInsertOutput = `INSERT INTO outputs (account_id, output_hash, value, mined_height, mined_hash,
		status, created_at) VALUES (?, ?, ?, ?, ?, 'unspent', ?);`
	queryGetOutputById       = `SELECT ` + outputColumns + ` FROM outputs WHERE id = ?;`
	queryGetLiveOutputByHash = `SELECT ` + outputColumns + ` FROM outputs WHERE output_hash = ? AND deleted_at IS NULL;`
	queryGetOutputsByAccount = `SELECT ` + outputColumns + ` FROM outputs WHERE account_id = ? ORDER BY id ASC;`
	queryGetOutputsByRequest = `SELECT ` + outputColumns + ` FROM outputs
		WHERE locked_by_request_id = ? AND deleted_at IS NULL ORDER BY id ASC;`

	// candidates for coin selection: ascending value, then mined height, then id.
	queryGetSpendableOutputs = `SELECT ` + outputColumns + ` FROM outputs
		WHERE account_id = ? AND status = 'unspent' AND deleted_at IS NULL AND confirmed_height IS NOT NULL
		ORDER BY value ASC, mined_height ASC, id ASC;`
	queryGetUnconfirmedOutputs = `SELECT ` + outputColumns + ` FROM outputs
		WHERE account_id = ? AND deleted_at IS NULL AND confirmed_height IS NULL AND mined_height <= ?
		ORDER BY mined_height ASC, id ASC;`

	querySetOutputSpent     = `UPDATE outputs SET status = 'spent' WHERE id = ? AND deleted_at IS NULL;`
	querySetOutputConfirmed = `UPDATE outputs SET confirmed_height = ?, confirmed_hash = ? WHERE id = ?;`
	queryLockOutput         = `UPDATE outputs SET status = 'locked', locked_at = ?, locked_by_request_id = ?
		WHERE id = ? AND account_id = ? AND status = 'unspent' AND deleted_at IS NULL AND confirmed_height IS NOT NULL;`
	queryUnlockOutputsByRequest = `UPDATE outputs SET status = 'unspent', locked_at = NULL, locked_by_request_id = NULL
		WHERE locked_by_request_id = ? AND status = 'locked' AND deleted_at IS NULL;`
	queryCountLockedByRequest = `SELECT COUNT(*) FROM outputs
		WHERE locked_by_request_id = ? AND status = 'locked' AND deleted_at IS NULL;`
)

// inputs
var (
	inputColumns = `id, account_id, output_id, mined_height, mined_hash, created_at, deleted_at, deleted_in_block_height`

	queryInsertInput = `INSERT INTO inputs (account_id, output_id, mined_height, mined_hash, created_at)
		VALUES (?, ?, ?, ?, ?);`
	queryGetLiveInputByOutput = `SELECT ` + inputColumns + ` FROM inputs WHERE output_id = ? AND deleted_at IS NULL;`
	queryGetInputsByAccount   = `SELECT ` + inputColumns + ` FROM inputs WHERE account_id = ? ORDER BY id ASC;`
)

// balance changes
var (
	balanceChangeColumns = `id, account_id, caused_by_output_id, caused_by_input_id, description,
		balance_credit, balance_debit, effective_height, effective_date, is_reversal, reversal_of_id, is_reversed`

	queryInsertBalanceChange = `INSERT INTO balance_changes (account_id, caused_by_output_id, caused_by_input_id,
		description, balance_credit, balance_debit, effective_height, effective_date, is_reversal, reversal_of_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`
	queryGetBalanceChangeById       = `SELECT ` + balanceChangeColumns + ` FROM balance_changes WHERE id = ?;`
	queryGetBalanceChangesByAccount = `SELECT ` + balanceChangeColumns + ` FROM balance_changes
		WHERE account_id = ? ORDER BY effective_height ASC, id ASC;`
	queryGetReversibleFromHeight = `SELECT ` + balanceChangeColumns + ` FROM balance_changes
		WHERE account_id = ? AND effective_height >= ? AND is_reversal = 0 AND is_reversed = 0
		ORDER BY id DESC;`
	queryHasLiveCreditForOutput = `SELECT COUNT(*) FROM balance_changes
		WHERE caused_by_output_id = ? AND is_reversal = 0 AND is_reversed = 0 AND balance_credit > 0;`
	querySetBalanceChangeReversed = `UPDATE balance_changes SET is_reversed = 1 WHERE id = ? AND is_reversed = 0;`
	queryLedgerTotals             = `SELECT COALESCE(SUM(balance_credit), 0), COALESCE(SUM(balance_debit), 0)
		FROM balance_changes WHERE account_id = ?;`
)

// balance buckets
var (
	querySumAvailable = `SELECT COALESCE(SUM(value), 0) FROM outputs
		WHERE account_id = ? AND status = 'unspent' AND deleted_at IS NULL AND confirmed_height IS NOT NULL;`
	querySumLocked = `SELECT COALESCE(SUM(value), 0) FROM outputs
		WHERE account_id = ? AND status = 'locked' AND deleted_at IS NULL AND confirmed_height IS NOT NULL;`
	querySumUnconfirmed = `SELECT COALESCE(SUM(value), 0) FROM outputs
		WHERE account_id = ? AND status != 'spent' AND deleted_at IS NULL AND confirmed_height IS NULL;`
	querySumPendingOutputs = `SELECT COALESCE(SUM(value), 0) FROM pending_outputs
		WHERE account_id = ? AND status = 'pending';`
	querySumPendingInputs = `SELECT COALESCE(SUM(o.value), 0) FROM pending_inputs pi
		JOIN outputs o ON o.id = pi.output_id
		WHERE pi.account_id = ? AND pi.status = 'pending' AND o.deleted_at IS NULL;`
)

// pending transactions and projections
var (
	pendingTransactionColumns = `id, account_id, idempotency_key, amount, total_value, status, expires_at,
		mined_height, confirmed_height, created_at, updated_at`

	queryInsertPendingTransaction = `INSERT INTO pending_transactions (id, account_id, idempotency_key, amount,
		total_value, status, expires_at, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);`
	queryGetPendingTransactionById  = `SELECT ` + pendingTransactionColumns + ` FROM pending_transactions WHERE id = ?;`
	queryGetPendingTransactionByKey = `SELECT ` + pendingTransactionColumns + ` FROM pending_transactions
		WHERE account_id = ? AND idempotency_key = ?;`
	queryGetExpiredPendingTransactions = `SELECT ` + pendingTransactionColumns + ` FROM pending_transactions
		WHERE account_id = ? AND status = 'pending' AND expires_at <= ? ORDER BY expires_at ASC, id ASC;`
	queryUpdatePendingTransactionStatus = `UPDATE pending_transactions SET status = ?, updated_at = ? WHERE id = ?;`
	querySetRequestMined                = `UPDATE pending_transactions SET mined_height = ?, updated_at = ? WHERE id = ?;`
	querySetRequestConfirmed            = `UPDATE pending_transactions SET confirmed_height = ?, updated_at = ? WHERE id = ?;`
	queryClearRequestMined              = `UPDATE pending_transactions SET mined_height = NULL, confirmed_height = NULL,
		updated_at = ? WHERE id = ?;`
	queryGetRequestsToConfirm = `SELECT ` + pendingTransactionColumns + ` FROM pending_transactions
		WHERE account_id = ? AND mined_height IS NOT NULL AND confirmed_height IS NULL AND mined_height <= ?
		ORDER BY mined_height ASC, id ASC;`
	queryGetRequestsMinedFrom = `SELECT ` + pendingTransactionColumns + ` FROM pending_transactions
		WHERE account_id = ? AND mined_height >= ? ORDER BY mined_height ASC, id ASC;`
	queryUnconfirmRequestsFrom = `UPDATE pending_transactions SET confirmed_height = NULL, updated_at = ?
		WHERE account_id = ? AND confirmed_height >= ?;`
	queryGetInFlightRequests = `SELECT ` + pendingTransactionColumns + ` FROM pending_transactions
		WHERE account_id = ? AND status = 'fulfilled' AND confirmed_height IS NULL ORDER BY created_at ASC, id ASC;`

	queryInsertPendingOutput = `INSERT INTO pending_outputs (account_id, pending_transaction_id, output_hash, value,
		status, expires_at, created_at) VALUES (?, ?, ?, ?, 'pending', ?, ?);`
	queryInsertPendingInput = `INSERT INTO pending_inputs (account_id, pending_transaction_id, output_id,
		status, expires_at, created_at) VALUES (?, ?, ?, 'pending', ?, ?);`
	queryResolvePendingOutput = `UPDATE pending_outputs SET status = 'mined', mined_height = ?
		WHERE account_id = ? AND output_hash = ? AND status = 'pending';`
	queryResolvePendingInput = `UPDATE pending_inputs SET status = 'mined', mined_height = ?
		WHERE account_id = ? AND output_id = ? AND status = 'pending';`
	// a reopened projection gets at least its original lifetime again, counted from now
	queryReopenPendingOutputs = `UPDATE pending_outputs SET status = 'pending', mined_height = NULL,
		expires_at = MAX(expires_at, ? + (expires_at - created_at))
		WHERE account_id = ? AND status = 'mined' AND mined_height >= ?;`
	queryReopenPendingInputs = `UPDATE pending_inputs SET status = 'pending', mined_height = NULL,
		expires_at = MAX(expires_at, ? + (expires_at - created_at))
		WHERE account_id = ? AND status = 'mined' AND mined_height >= ?;`
	queryCountOpenPendingInput = `SELECT COUNT(*) FROM pending_inputs
		WHERE pending_transaction_id = ? AND output_id = ? AND status = 'pending';`
	queryGetPendingOutputsByRequest = `SELECT output_hash, value FROM pending_outputs
		WHERE pending_transaction_id = ? AND status != 'expired' ORDER BY id ASC;`
	queryExpirePendingOutputs = `UPDATE pending_outputs SET status = 'expired'
		WHERE account_id = ? AND status = 'pending' AND expires_at <= ?;`
	queryGetExpiredPendingInputs = `SELECT id, account_id, pending_transaction_id, output_id FROM pending_inputs
		WHERE account_id = ? AND status = 'pending' AND expires_at <= ? ORDER BY id ASC;`
	queryExpirePendingInput = `UPDATE pending_inputs SET status = 'expired' WHERE id = ?;`
	queryCountOpenProjections = `SELECT
		(SELECT COUNT(*) FROM pending_outputs WHERE account_id = ? AND status = 'pending') +
		(SELECT COUNT(*) FROM pending_inputs WHERE account_id = ? AND status = 'pending');`
)

// scanned tips
var (
	queryInsertScannedTip = `INSERT OR REPLACE INTO scanned_tip_blocks (account_id, height, hash, created_at)
		VALUES (?, ?, ?, ?);`
	queryGetScannedTip    = `SELECT height, hash FROM scanned_tip_blocks WHERE account_id = ? AND height = ?;`
	queryGetScannedTips   = `SELECT height, hash FROM scanned_tip_blocks WHERE account_id = ? ORDER BY height DESC LIMIT ?;`
	queryGetScannedTipsFrom = `SELECT height, hash FROM scanned_tip_blocks WHERE account_id = ? AND height >= ?
		ORDER BY height ASC;`
	queryDeleteTipsFrom   = `DELETE FROM scanned_tip_blocks WHERE account_id = ? AND height >= ?;`
	queryPruneScannedTips = `DELETE FROM scanned_tip_blocks WHERE account_id = ? AND height < ? AND height % ? != 0;`
)

// events
var (
	eventColumns = `id, account_id, event_type, height, output_id, input_id, balance_change_id,
		pending_transaction_id, payload, available, locked, pending_incoming, pending_outgoing, created_at`

	queryInsertEvent = `INSERT INTO events (account_id, event_type, height, output_id, input_id, balance_change_id,
		pending_transaction_id, payload, available, locked, pending_incoming, pending_outgoing, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`
	queryGetEventsAfter = `SELECT ` + eventColumns + ` FROM events WHERE account_id = ? AND id > ? ORDER BY id ASC LIMIT ?;`
	queryGetLastEventId = `SELECT COALESCE(MAX(id), 0) FROM events WHERE account_id = ?;`
)

// rollback
var (
	queryGetLiveInputsFrom = `SELECT ` + inputColumns + ` FROM inputs
		WHERE account_id = ? AND mined_height >= ? AND deleted_at IS NULL ORDER BY id ASC;`
	querySoftDeleteInput = `UPDATE inputs SET deleted_at = ?, deleted_in_block_height = ? WHERE id = ?;`
	queryRestoreSpentOutput = `UPDATE outputs SET status = ?, locked_at = CASE WHEN ? = 'locked' THEN locked_at ELSE NULL END,
		locked_by_request_id = CASE WHEN ? = 'locked' THEN locked_by_request_id ELSE NULL END
		WHERE id = ? AND deleted_at IS NULL;`
	queryGetRequestsLockingFrom = `SELECT DISTINCT locked_by_request_id FROM outputs
		WHERE account_id = ? AND mined_height >= ? AND deleted_at IS NULL AND locked_by_request_id IS NOT NULL;`
	queryGetLiveOutputsFrom = `SELECT ` + outputColumns + ` FROM outputs
		WHERE account_id = ? AND mined_height >= ? AND deleted_at IS NULL ORDER BY id ASC;`
	querySoftDeleteOutput = `UPDATE outputs SET deleted_at = ?, deleted_in_block_height = ? WHERE id = ?;`
	// outputs of a request whose rolled back spend is not covered by an open pending input
	queryGetRespentOutputsFrom = `SELECT o.id FROM outputs o
		JOIN inputs i ON i.output_id = o.id AND i.deleted_at IS NULL
		WHERE o.locked_by_request_id = ? AND o.deleted_at IS NULL AND o.mined_height < ? AND i.mined_height >= ?
		AND NOT EXISTS (SELECT 1 FROM pending_inputs pi WHERE pi.pending_transaction_id = o.locked_by_request_id
			AND pi.output_id = o.id AND pi.status = 'pending')
		ORDER BY o.id ASC;`
	queryUnconfirmFrom    = `UPDATE outputs SET confirmed_height = NULL, confirmed_hash = NULL
		WHERE account_id = ? AND confirmed_height >= ? AND deleted_at IS NULL;`
)

// displayed transactions
var (
	displayedColumns = `id, account_id, direction, status, amount, block_height, pending_transaction_id, details,
		created_at, updated_at`

	queryInsertDisplayed = `INSERT INTO displayed_transactions (id, account_id, direction, status, amount, block_height,
		pending_transaction_id, details, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`
	queryGetBroadcastDisplayed = `SELECT ` + displayedColumns + ` FROM displayed_transactions
		WHERE pending_transaction_id = ? AND status = 'pending' ORDER BY created_at DESC, id ASC LIMIT 1;`
	queryMarkDisplayedMined = `UPDATE displayed_transactions SET status = 'unconfirmed', direction = ?, amount = ?,
		block_height = ?, details = ?, updated_at = ? WHERE id = ?;`
	queryCancelBroadcastDisplayed = `UPDATE displayed_transactions SET status = 'cancelled', updated_at = ?
		WHERE pending_transaction_id = ? AND status = 'pending';`
	queryConfirmDisplayed = `UPDATE displayed_transactions SET status = 'confirmed', updated_at = ?
		WHERE account_id = ? AND status = 'unconfirmed' AND block_height <= ?;`
	queryGetDisplayedMinedFrom = `SELECT ` + displayedColumns + ` FROM displayed_transactions
		WHERE account_id = ? AND block_height >= ? AND status IN ('unconfirmed', 'confirmed')
		ORDER BY block_height ASC, id ASC;`
	queryMarkDisplayedReorganized = `UPDATE displayed_transactions SET status = 'reorganized', updated_at = ? WHERE id = ?;`
	queryUnconfirmDisplayed       = `UPDATE displayed_transactions SET status = 'unconfirmed', updated_at = ?
		WHERE account_id = ? AND status = 'confirmed' AND block_height < ? AND block_height + ? >= ?;`
	queryGetDisplayedPage = `SELECT ` + displayedColumns + ` FROM displayed_transactions
		WHERE account_id = ? AND (? OR status != 'reorganized')
		ORDER BY CASE WHEN block_height = 0 THEN 1 ELSE 0 END DESC, block_height DESC, created_at DESC, id ASC
		LIMIT ? OFFSET ?;`
)
