// This is a http type of reporter.
// It serves balances, events and the lock api over the ledger,
// plus the prometheus metrics of the process.

package reporter

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	logger "github.com/sirupsen/logrus"

	"github.com/TEENet-io/watchwallet/common"
	"github.com/TEENet-io/watchwallet/ledger"
	"github.com/TEENet-io/watchwallet/locker"
)

const (
	ROUTE_ACCOUNTS        = "/accounts"
	ROUTE_TOTAL_BALANCE   = "/balance"
	ROUTE_BALANCE         = "/accounts/:name/balance"
	ROUTE_EVENTS          = "/accounts/:name/events"
	ROUTE_TRANSACTIONS    = "/accounts/:name/transactions"
	ROUTE_LOCKS           = "/accounts/:name/locks"
	ROUTE_RELEASE         = "/accounts/:name/locks/:id/release"
	ROUTE_FULFILL         = "/accounts/:name/locks/:id/fulfill"
	ROUTE_RESCAN          = "/accounts/:name/rescan"
	ROUTE_METRICS         = "/metrics"
	MAX_EVENTS_PER_PAGE   = 1000
	SHUTDOWN_GRACE_PERIOD = 5 * time.Second
)

type HttpReporter struct {
	serverIP   string // listen ip
	serverPort string // listen port

	ledger   *ledger.Ledger
	locker   *locker.FundLocker
	gatherer prometheus.Gatherer
	network  *chaincfg.Params
}

// NewHttpReporter builds the reporter. gatherer may be nil to serve the default registry.
func NewHttpReporter(serverIP string, serverPort string, l *ledger.Ledger, fl *locker.FundLocker, gatherer prometheus.Gatherer, network *chaincfg.Params) *HttpReporter {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if network == nil {
		network = &chaincfg.RegressionNetParams
	}
	return &HttpReporter{
		serverIP:   serverIP,
		serverPort: serverPort,
		ledger:     l,
		locker:     fl,
		gatherer:   gatherer,
		network:    network,
	}
}

// Hook up routes & handlers
func (h *HttpReporter) SetupRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET(ROUTE_ACCOUNTS, h.Accounts)
	router.GET(ROUTE_TOTAL_BALANCE, h.TotalBalance)
	router.GET(ROUTE_BALANCE, h.Balance)
	router.GET(ROUTE_EVENTS, h.Events)
	router.GET(ROUTE_TRANSACTIONS, h.Transactions)
	router.POST(ROUTE_LOCKS, h.Lock)
	router.POST(ROUTE_RELEASE, h.Release)
	router.POST(ROUTE_FULFILL, h.Fulfill)
	router.POST(ROUTE_RESCAN, h.Rescan)
	router.GET(ROUTE_METRICS, gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))

	return router
}

// Run serves until ctx is done, then shuts the server down.
func (h *HttpReporter) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    net.JoinHostPort(h.serverIP, h.serverPort),
		Handler: h.SetupRouter(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("address", srv.Addr).Info("http reporter listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), SHUTDOWN_GRACE_PERIOD)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return ctx.Err()
}

func (h *HttpReporter) Accounts(c *gin.Context) {
	accts, err := h.ledger.Accounts(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	views := make([]AccountView, 0, len(accts))
	for _, a := range accts {
		views = append(views, accountView(a, h.network))
	}
	c.JSON(http.StatusOK, gin.H{"data": views})
}

func (h *HttpReporter) TotalBalance(c *gin.Context) {
	bal, err := h.ledger.TotalBalance(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": bal})
}

func (h *HttpReporter) Balance(c *gin.Context) {
	acct, ok := h.account(c)
	if !ok {
		return
	}
	includeChildren := c.Query("include_children") == "true"
	bal, err := h.ledger.Balance(c.Request.Context(), acct.ID, includeChildren)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": bal})
}

func (h *HttpReporter) Events(c *gin.Context) {
	acct, ok := h.account(c)
	if !ok {
		return
	}
	after, err := strconv.ParseInt(c.DefaultQuery("after", "0"), 10, 64)
	if err != nil || after < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid after"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(ledger.DEFAULT_EVENTS_LIMIT)))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}
	if limit > MAX_EVENTS_PER_PAGE {
		limit = MAX_EVENTS_PER_PAGE
	}

	evs, err := h.ledger.EventsAfter(c.Request.Context(), acct.ID, after, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": evs})
}

// Transactions serves the account's displayed history. Reorganized entries
// are hidden unless include_reorganized=true.
func (h *HttpReporter) Transactions(c *gin.Context) {
	acct, ok := h.account(c)
	if !ok {
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(ledger.DEFAULT_HISTORY_LIMIT)))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}
	if limit > MAX_EVENTS_PER_PAGE {
		limit = MAX_EVENTS_PER_PAGE
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid offset"})
		return
	}
	include, err := strconv.ParseBool(c.DefaultQuery("include_reorganized", "false"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid include_reorganized"})
		return
	}

	dts, err := h.ledger.History(c.Request.Context(), acct.ID, ledger.HistoryFilter{
		Limit:              limit,
		Offset:             offset,
		IncludeReorganized: include,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": dts})
}

func (h *HttpReporter) Lock(c *gin.Context) {
	acct, ok := h.account(c)
	if !ok {
		return
	}
	var body LockBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.locker.Lock(c.Request.Context(), acct.ID, body.Amount, body.IdempotencyKey, seconds(body.TTLSeconds))
	if err != nil {
		writeError(c, err)
		return
	}

	view := LockView{Request: requestView(res.Request), Outputs: []OutputView{}, Replayed: res.Replayed}
	for _, o := range res.Outputs {
		view.Outputs = append(view.Outputs, outputView(o))
	}
	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{"data": view})
}

func (h *HttpReporter) Release(c *gin.Context) {
	acct, ok := h.account(c)
	if !ok {
		return
	}
	req, err := h.locker.Release(c.Request.Context(), acct.ID, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": requestView(req)})
}

func (h *HttpReporter) Fulfill(c *gin.Context) {
	acct, ok := h.account(c)
	if !ok {
		return
	}
	var body FulfillBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var change *locker.Change
	if body.ChangeValue > 0 {
		hash, err := common.HashFromStr(body.ChangeHash)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		change = &locker.Change{Hash: hash, Value: body.ChangeValue}
	}

	req, err := h.locker.Fulfill(c.Request.Context(), acct.ID, c.Param("id"), change, seconds(body.TTLSeconds))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": requestView(req)})
}

func (h *HttpReporter) Rescan(c *gin.Context) {
	acct, ok := h.account(c)
	if !ok {
		return
	}
	var body RescanBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if body.FromHeight == 0 {
		body.FromHeight = acct.BirthdayHeight + 1
	}

	res, err := h.ledger.Rescan(c.Request.Context(), acct.ID, body.FromHeight)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rollbackView(res)})
}

// account resolves the :name param, writing the error response itself.
func (h *HttpReporter) account(c *gin.Context) (*ledger.Account, bool) {
	acct, err := h.ledger.AccountByName(c.Request.Context(), c.Param("name"))
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	return acct, true
}

func seconds(n int64) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}

// writeError maps domain errors to http statuses.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "internal"

	var funds *locker.InsufficientFundsError
	switch {
	case errors.Is(err, ledger.ErrAccountNotFound):
		status, code = http.StatusNotFound, "account_not_found"
	case errors.Is(err, ledger.ErrRequestNotFound):
		status, code = http.StatusNotFound, "request_not_found"
	case errors.Is(err, locker.ErrInvalidAmount):
		status, code = http.StatusBadRequest, "invalid_amount"
	case errors.Is(err, locker.ErrLockConflict):
		status, code = http.StatusConflict, "lock_conflict"
	case errors.Is(err, locker.ErrRequestNotPending):
		status, code = http.StatusConflict, "request_not_pending"
	case errors.Is(err, locker.ErrKeyConsumed):
		status, code = http.StatusConflict, "idempotency_key_consumed"
	case errors.As(err, &funds):
		status, code = http.StatusUnprocessableEntity, "insufficient_balance"
		if errors.Is(err, locker.ErrFundsPending) {
			code = "funds_pending"
		}
		c.JSON(status, gin.H{
			"error":       err.Error(),
			"code":        code,
			"requested":   funds.Requested,
			"available":   funds.Available,
			"unconfirmed": funds.Unconfirmed,
		})
		return
	}

	if status == http.StatusInternalServerError {
		logger.WithField("error", err).Error("http request failed")
	}
	c.JSON(status, gin.H{"error": err.Error(), "code": code})
}
