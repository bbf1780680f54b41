package gateway

import (
	"context"
	"fmt"
	"time"

	"market-gateway/src/candles"
	"market-gateway/src/catalog"
	"market-gateway/src/config"
	"market-gateway/src/credentials"
	"market-gateway/src/feed"
	"market-gateway/src/grpc_control"
	"market-gateway/src/heartbeat"
	"market-gateway/src/history"
	"market-gateway/src/interfaces"
	"market-gateway/src/logger"
	"market-gateway/src/models"
	"market-gateway/src/network"
	"market-gateway/src/router"
	"market-gateway/src/server"
	"market-gateway/src/utils"

	"golang.org/x/sync/errgroup"
)

// -----------------------------------------------------------------------------
// Gateway owns every component and their lifecycle.
// -----------------------------------------------------------------------------

type Gateway struct {
	Config *config.Config
	Logger *logger.Logger

	Calendar   *utils.TradingCalendar
	Catalog    *catalog.Catalog
	Store      *history.Store
	Aggregator *candles.Aggregator
	Router     *router.Router
	Feed       *feed.Client
	Backfill   *history.Backfiller
	Server     *server.Server
	Watcher    *credentials.Watcher
	Heartbeat  *heartbeat.Broadcaster
	Archive    interfaces.ICandleArchive
	Control    *grpc_control.ControlService

	source      interfaces.ICredentialSource
	stopArchive context.CancelFunc
}

// -----------------------------------------------------------------------------
// Constructor
// -----------------------------------------------------------------------------

func New(cfg *config.Config, log *logger.Logger, ov Overrides) (*Gateway, error) {
	g := &Gateway{Config: cfg, Logger: log}

	cal, err := setupCalendar(cfg.Trading, ov.Clock)
	if err != nil {
		return nil, fmt.Errorf("trading calendar: %w", err)
	}
	g.Calendar = cal
	if cal.Fallback {
		log.Warning("No holiday calendar for '%s', using a Monday to Friday week", cfg.Trading.CalendarMIC)
	}

	g.Catalog = setupCatalog(cfg.Catalog)
	g.Store = history.NewStore(cfg.Gateway.HistoryCapacity)
	g.Aggregator = candles.NewAggregator(cfg.Gateway.CandleInterval, g.Store)
	g.Aggregator.Location = cal.Timezone
	g.Router = router.NewRouter(cfg.Gateway.MaxPerClient, router.DefaultShardCount)

	// Upstream transport
	rest := feed.NewRESTClient(cfg.Upstream.RESTURL, network.NewAsyncNetworkManager(cfg.Upstream.RequestTimeout, log.Named("Network")))
	dialer := ov.Dialer
	if dialer == nil {
		dialer = feed.NewWSDialer(cfg.Upstream.WSURL)
	}
	fetcher := ov.Fetcher
	if fetcher == nil {
		fetcher = rest
	}
	verifier := ov.Verifier
	if verifier == nil {
		verifier = credentialGate{
			clientID:    cfg.Upstream.ClientID,
			skipProfile: cfg.Upstream.SkipProfile,
			rest:        rest,
			verifier:    rest,
		}
	}

	g.Feed = feed.NewClient(feed.Options{
		BackoffBase: cfg.Upstream.BackoffBase,
		BackoffMax:  cfg.Upstream.BackoffMax,
	}, dialer, verifier, g.Router, g, log.Named("Feed"))
	g.Router.SetSink(g.Feed)

	g.Backfill = setupBackfiller(cfg, fetcher, g.Store, g.Aggregator, cal, log.Named("Backfill"))
	g.Server = server.NewServer(cfg.MConfig, g.Catalog, g.Router, g.Store, g.Backfill, g, log.Named("Server"))

	g.source = ov.Source
	if g.source == nil {
		g.source = setupCredentialSource(cfg.Credentials, log.Named("Credentials"))
	}
	g.Watcher = credentials.NewWatcher(g.source, g.Feed, cfg.Credentials.PollInterval, cfg.Credentials.ErrorBackoff, log.Named("Credentials"))
	g.Feed.OnAuthExpired(g.Watcher.MarkExpired)

	g.Heartbeat = heartbeat.NewBroadcaster(cfg.Gateway.HeartbeatInterval, g.Server, cal, g.Watcher.AuthInitialized, g.Feed.Connected, log.Named("Heartbeat"))

	g.Archive = ov.Archive
	if g.Archive == nil {
		archive, err := setupArchive(cfg.Storage, log.Named("Archive"))
		if err != nil {
			return nil, err
		}
		g.Archive = archive
	}
	g.Aggregator.OnClose(g.Archive.Save)

	g.Feed.AddStatusListener(statusRelay{sessions: g.Server})
	g.Control = setupControl(cfg.App, log.Named("Control"))
	if g.Control != nil {
		g.Feed.AddStatusListener(g.Control)
	}

	return g, nil
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts every component and blocks until ctx is cancelled or one of them
// fails, then tears down in order: stop accepting sessions and close them,
// close the upstream, flush open candles, close the archive.
func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	group, gctx := errgroup.WithContext(ctx)
	g.Feed.Start(gctx)

	// The archive outlives gctx so candles flushed during shutdown are written.
	archiveCtx, stopArchive := context.WithCancel(context.Background())
	g.stopArchive = stopArchive
	defer stopArchive()
	group.Go(func() error { return g.Archive.Run(archiveCtx) })
	group.Go(func() error { return g.Backfill.Run(gctx) })
	group.Go(func() error { return g.Watcher.Run(gctx) })
	group.Go(func() error { return g.Heartbeat.Run(gctx) })
	group.Go(func() error { return g.sweepCandles(gctx) })
	group.Go(func() error {
		err := g.Server.Start()
		cancel()
		return err
	})
	if g.Control != nil {
		group.Go(func() error { return g.Control.Run(gctx) })
	}

	g.Logger.Info("%s running (max %d symbols per client, %s candles)", g.Config.App.Name, g.Config.Gateway.MaxPerClient, g.Config.Gateway.CandleInterval)

	<-gctx.Done()
	g.shutdown()
	return group.Wait()
}

// -----------------------------------------------------------------------------

func (g *Gateway) shutdown() {
	g.Logger.Info("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), g.Config.Gateway.ShutdownTimeout)
	defer cancel()

	if err := g.Server.Shutdown(ctx); err != nil {
		g.Logger.Error("Server shutdown: %v", err)
	}
	g.Feed.Stop()

	closed := g.Aggregator.Flush(g.Calendar.Now().Unix() + g.Aggregator.Interval)
	g.Logger.Info("Flushed %d open candles", len(closed))
	g.stopArchive()
}

// -----------------------------------------------------------------------------

// Close releases resources that outlive Run.
func (g *Gateway) Close() error {
	if closer, ok := g.source.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			g.Logger.Warning("Closing credential source: %v", err)
		}
	}
	return g.Archive.Close()
}

// -----------------------------------------------------------------------------

// sweepCandles closes candles whose bucket has ended while the symbol is
// quiet, so the last candle of a session still reaches history.
func (g *Gateway) sweepCandles(ctx context.Context) error {
	ticker := time.NewTicker(time.Duration(g.Aggregator.Interval) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, c := range g.Aggregator.Flush(g.Calendar.Now().Unix()) {
				g.relayClosed(c)
			}
		}
	}
}

// -----------------------------------------------------------------------------
// server.StatusSource
// -----------------------------------------------------------------------------

func (g *Gateway) TradingStatus() models.MTradingStatus {
	return g.Calendar.Status(g.Watcher.AuthInitialized())
}

func (g *Gateway) UpstreamConnected() bool {
	return g.Feed.Connected()
}

func (g *Gateway) HistoryDate() time.Time {
	return g.Calendar.LastTradingDay(g.Calendar.Now())
}
