// Server = ledger + scan coordinator + unlocker + event observers + http reporter.
// All components are configured via environment variables (strings!).

package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	logger "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/TEENet-io/watchwallet/chainsource"
	"github.com/TEENet-io/watchwallet/database"
	"github.com/TEENet-io/watchwallet/events"
	"github.com/TEENet-io/watchwallet/ledger"
	"github.com/TEENet-io/watchwallet/locker"
	"github.com/TEENet-io/watchwallet/reporter"
	"github.com/TEENet-io/watchwallet/scan"
)

const (
	BLOCK_SOURCE_SIM  = "sim"
	BLOCK_SOURCE_HTTP = "http"

	// event observer config
	CHANNEL_BUFFER_SIZE = 256
)

// Keep the configuration's fields as "text" as possible.
// Its easier to load it from env vars or a config file.
// Empty fields take the component defaults.
type WalletServerConfig struct {
	// storage side
	DbFilePath string // sqlite file path

	// chain side
	BlockSource    string // "sim" or "http"
	BlockSourceUrl string // gateway url, http source only
	SimGatewayPort string // sim source only: serve the simulated chain on this port, empty = off
	Network        string // mainnet, testnet, simnet, regtest (display addresses only)

	// scan side
	ScanMode           string // full, partial, continuous
	ScanBatchSize      string // blocks per fetch
	ScanMaxBlocks      string // partial mode budget
	ScanPollInterval   string // duration, continuous mode
	ReorgCheckInterval string // blocks between reorg checks
	ReorgCheckDepth    string // tips sampled per check
	ConfirmationDepth  string // blocks to settle an output

	// lock side
	LockTtl          string // duration
	UnlockerInterval string // duration

	// Http side
	HttpIp   string // eg. 0.0.0.0
	HttpPort string // eg. 8080

	LogLevel string
}

// ServerSettings is the typed form of WalletServerConfig.
type ServerSettings struct {
	DbFilePath       string
	BlockSource      string
	BlockSourceUrl   string
	SimGatewayPort   string
	Network          *chaincfg.Params
	Scan             scan.Config
	Ledger           ledger.Config
	LockTtl          time.Duration
	UnlockerInterval time.Duration
	HttpIp           string
	HttpPort         string
}

// Parse converts the text config into typed component settings.
func (wsc *WalletServerConfig) Parse() (*ServerSettings, error) {
	if wsc.DbFilePath == "" {
		return nil, errors.New("DB_FILE_PATH is required")
	}

	s := &ServerSettings{
		DbFilePath:     wsc.DbFilePath,
		BlockSource:    wsc.BlockSource,
		BlockSourceUrl: wsc.BlockSourceUrl,
		SimGatewayPort: wsc.SimGatewayPort,
		Network:        chainsource.NetworkParams(wsc.Network),
		Scan:           *scan.DefaultConfig(),
		Ledger:         *ledger.DefaultConfig(),
		HttpIp:         wsc.HttpIp,
		HttpPort:       wsc.HttpPort,
	}
	if s.BlockSource == "" {
		s.BlockSource = BLOCK_SOURCE_SIM
	}
	switch s.BlockSource {
	case BLOCK_SOURCE_SIM:
	case BLOCK_SOURCE_HTTP:
		if s.BlockSourceUrl == "" {
			return nil, errors.New("BLOCK_SOURCE_URL is required for the http block source")
		}
	default:
		return nil, fmt.Errorf("unknown BLOCK_SOURCE %q", s.BlockSource)
	}
	if s.HttpIp == "" {
		s.HttpIp = "0.0.0.0"
	}
	if s.HttpPort == "" {
		s.HttpPort = "8080"
	}

	// continuous is the natural mode of a daemon
	s.Scan.Mode = scan.Continuous
	if wsc.ScanMode != "" {
		mode, err := scan.ParseMode(wsc.ScanMode)
		if err != nil {
			return nil, err
		}
		s.Scan.Mode = mode
	}

	var err error
	if s.Scan.BatchSize, err = parseUint("SCAN_BATCH_SIZE", wsc.ScanBatchSize, s.Scan.BatchSize); err != nil {
		return nil, err
	}
	if s.Scan.MaxBlocks, err = parseUint("SCAN_MAX_BLOCKS", wsc.ScanMaxBlocks, s.Scan.MaxBlocks); err != nil {
		return nil, err
	}
	if s.Scan.PollInterval, err = parseDuration("SCAN_POLL_INTERVAL", wsc.ScanPollInterval, s.Scan.PollInterval); err != nil {
		return nil, err
	}
	if s.Scan.ReorgCheckInterval, err = parseUint("REORG_CHECK_INTERVAL", wsc.ReorgCheckInterval, s.Scan.ReorgCheckInterval); err != nil {
		return nil, err
	}
	depth, err := parseUint("REORG_CHECK_DEPTH", wsc.ReorgCheckDepth, uint64(s.Scan.ReorgCheckDepth))
	if err != nil {
		return nil, err
	}
	s.Scan.ReorgCheckDepth = int(depth)
	if s.Ledger.ConfirmationDepth, err = parseUint("CONFIRMATION_DEPTH", wsc.ConfirmationDepth, s.Ledger.ConfirmationDepth); err != nil {
		return nil, err
	}
	if s.LockTtl, err = parseDuration("LOCK_TTL", wsc.LockTtl, locker.DEFAULT_LOCK_TTL); err != nil {
		return nil, err
	}
	if s.UnlockerInterval, err = parseDuration("UNLOCKER_INTERVAL", wsc.UnlockerInterval, locker.DEFAULT_UNLOCKER_INTERVAL); err != nil {
		return nil, err
	}
	return s, nil
}

// WalletServer holds the objects that consists of the wallet server.
type WalletServer struct {
	Settings *ServerSettings

	DB       *sql.DB
	Ledger   *ledger.Ledger
	Registry *prometheus.Registry

	// sim mode only
	SimChain *chainsource.SimChain

	Source      chainsource.BlockSource
	Publisher   *events.Publisher
	LogObserver *events.LogObserver
	Locker      *locker.FundLocker
	Unlocker    *locker.Unlocker
	Coordinator *scan.Coordinator
	Reporter    *reporter.HttpReporter
}

// NewWalletServer opens the database and wires every component.
// Nothing runs until Run is called.
func NewWalletServer(s *ServerSettings) (*WalletServer, error) {
	db, err := database.Open(s.DbFilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open db file: %w", err)
	}

	ledgerCfg := s.Ledger
	l, err := ledger.New(db, &ledgerCfg, nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create ledger: %w", err)
	}

	// one registry for every component, served by the reporter
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	ws := &WalletServer{
		Settings: s,
		DB:       db,
		Ledger:   l,
		Registry: registry,
	}

	switch s.BlockSource {
	case BLOCK_SOURCE_HTTP:
		ws.Source = chainsource.NewHttpSource(s.BlockSourceUrl, 0)
	default:
		ws.SimChain = chainsource.NewSimChain()
		ws.Source = ws.SimChain
	}

	// ledger -> publisher -> observers
	ws.Publisher = events.NewPublisher(registry)
	ws.LogObserver = events.NewLogObserver(CHANNEL_BUFFER_SIZE)
	ws.Publisher.Register(ws.LogObserver.Ch)
	l.SetNotifier(ws.Publisher)

	ws.Locker = locker.NewFundLocker(l, s.LockTtl, registry)
	ws.Unlocker = locker.NewUnlocker(ws.Locker, nil, s.UnlockerInterval)

	scanCfg := s.Scan
	ws.Coordinator = scan.NewCoordinator(l, ws.Source, chainsource.NewECDHDetector(), &scanCfg, nil, registry)

	ws.Reporter = reporter.NewHttpReporter(s.HttpIp, s.HttpPort, l, ws.Locker, registry, s.Network)

	logger.WithFields(logger.Fields{
		"db":           s.DbFilePath,
		"block_source": s.BlockSource,
		"network":      s.Network.Name,
		"scan_mode":    s.Scan.Mode.String(),
		"http":         net.JoinHostPort(s.HttpIp, s.HttpPort),
	}).Info("wallet server created")
	return ws, nil
}

// Run starts every loop under one errgroup and returns when ctx is done or
// one of them fails. A cancelled ctx is a clean stop.
func (ws *WalletServer) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return ws.LogObserver.Loop(ctx)
	})
	g.Go(func() error {
		return ws.Unlocker.Loop(ctx)
	})
	g.Go(func() error {
		report, err := ws.Coordinator.Run(ctx, nil)
		if err != nil {
			return err
		}
		// full and partial runs end on their own, the rest keeps serving
		logger.WithFields(logger.Fields{
			"scanned": report.BlocksScanned,
			"applied": report.BlocksApplied,
			"reorgs":  len(report.Reorgs),
			"paused":  report.Paused,
		}).Info("scan finished")
		return nil
	})
	g.Go(func() error {
		return ws.Reporter.Run(ctx)
	})
	if ws.SimChain != nil && ws.Settings.SimGatewayPort != "" {
		g.Go(func() error {
			return serveGateway(ctx, ws.SimChain, net.JoinHostPort(ws.Settings.HttpIp, ws.Settings.SimGatewayPort))
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (ws *WalletServer) Close() {
	ws.Ledger.Close()
	ws.DB.Close()
}

// serveGateway publishes the simulated chain so that other processes can scan it.
func serveGateway(ctx context.Context, chain chainsource.ChainReader, addr string) error {
	srv := &http.Server{Addr: addr, Handler: chainsource.NewGateway(chain)}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), reporter.SHUTDOWN_GRACE_PERIOD)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.WithField("address", addr).Info("sim chain gateway listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return ctx.Err()
}

// Create, then start the wallet server and wait.
// Press Ctrl-C to kill the server.
func StartWalletServerAndWait(wsc *WalletServerConfig) error {
	settings, err := wsc.Parse()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Set up a signal channel to listen for Ctrl-C (SIGINT) or SIGTERM
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case sig := <-sigCh:
			logger.WithField("signal", sig.String()).Info("received signal, stopping")
			cancel()
		case <-ctx.Done():
		}
	}()

	ws, err := NewWalletServer(settings)
	if err != nil {
		return err
	}
	defer ws.Close()

	return ws.Run(ctx)
}
