package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"

	"market-gateway/src/candles"
	"market-gateway/src/catalog"
	"market-gateway/src/config"
	"market-gateway/src/credentials"
	"market-gateway/src/feed"
	"market-gateway/src/grpc_control"
	"market-gateway/src/helpers"
	"market-gateway/src/history"
	"market-gateway/src/interfaces"
	"market-gateway/src/logger"
	"market-gateway/src/models"
	"market-gateway/src/storage"
	"market-gateway/src/utils"

	"github.com/redis/go-redis/v9"
)

// Overrides replaces external collaborators. Zero fields use the real
// implementations built from config.
type Overrides struct {
	Dialer   interfaces.IDialer
	Fetcher  interfaces.IHistoryFetcher
	Verifier feed.CredentialVerifier
	Source   interfaces.ICredentialSource
	Archive  interfaces.ICandleArchive
	Clock    func() time.Time
}

// -----------------------------------------------------------------------------

// setupCalendar builds the trading calendar from the trading section.
func setupCalendar(cfg models.MTradingConfig, clock func() time.Time) (*utils.TradingCalendar, error) {
	start, err := config.ParseClock(cfg.SessionStart)
	if err != nil {
		return nil, err
	}
	end, err := config.ParseClock(cfg.SessionEnd)
	if err != nil {
		return nil, err
	}

	cal, err := utils.NewTradingCalendar(cfg.CalendarMIC, cfg.Timezone, start, end)
	if err != nil {
		return nil, err
	}
	if clock != nil {
		cal.WithClock(clock)
	}
	return cal, nil
}

// -----------------------------------------------------------------------------

// setupCatalog seeds the catalog with the configured instruments.
func setupCatalog(cfg models.MCatalogConfig) *catalog.Catalog {
	cat := catalog.NewCatalog(cfg.DefaultExchange, cfg.DefaultMarker)
	cat.Seed(cfg.Instruments)
	return cat
}

// -----------------------------------------------------------------------------

// setupCredentialSource picks the file or Redis credential source.
func setupCredentialSource(cfg models.MCredentialsConfig, log *logger.Logger) interfaces.ICredentialSource {
	switch strings.ToLower(cfg.Source) {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPass,
			DB:       cfg.RedisDB,
		})
		log.Info("Reading upstream credential from redis %s key %s", cfg.RedisAddr, cfg.RedisKey)
		return credentials.NewRedisSource(client, cfg.RedisKey)
	default:
		log.Info("Reading upstream credential from %s", cfg.Path)
		return credentials.NewFileSource(cfg.Path)
	}
}

// -----------------------------------------------------------------------------

// setupBackfiller paces history fetches against the upstream REST API.
func setupBackfiller(cfg *config.Config, fetcher interfaces.IHistoryFetcher, store *history.Store, agg *candles.Aggregator, cal *utils.TradingCalendar, log *logger.Logger) *history.Backfiller {
	return history.NewBackfiller(history.BackfillOptions{
		Workers:    cfg.Gateway.BackfillWorkers,
		QueueSize:  cfg.Gateway.BackfillWorkers * 64,
		Resolution: cfg.Upstream.Resolution,
		RatePerSec: cfg.Upstream.HistoryRate,
		Retries:    cfg.Upstream.HistoryRetries,
		RetryDelay: cfg.Upstream.BackoffBase,
		Timeout:    cfg.Upstream.RequestTimeout,
	}, fetcher, store, agg, cal, log)
}

// -----------------------------------------------------------------------------

// setupArchive opens the configured candle archive.
func setupArchive(cfg models.MStorageConfig, log *logger.Logger) (interfaces.ICandleArchive, error) {
	archive, err := storage.NewArchive(cfg, log)
	if err != nil {
		return nil, err
	}
	if err := archive.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize %s archive: %w", cfg.DBType, err)
	}
	return archive, nil
}

// -----------------------------------------------------------------------------

// setupControl returns nil when no gRPC port is configured.
func setupControl(cfg models.MAppConfig, log *logger.Logger) *grpc_control.ControlService {
	if cfg.GrpcPort == 0 {
		return nil
	}
	return grpc_control.NewControlService(cfg.GrpcPort, log)
}

// -----------------------------------------------------------------------------
// credentialGate enforces the configured client id before the profile check.
// With skipProfile it only hands the token to the REST client.
// -----------------------------------------------------------------------------

type credentialGate struct {
	clientID    string
	skipProfile bool
	rest        *feed.RESTClient
	verifier    feed.CredentialVerifier
}

func (g credentialGate) VerifyProfile(ctx context.Context, cred models.MCredential) error {
	if g.clientID != "" && cred.ClientID() != g.clientID {
		return helpers.NewAuthExpired(fmt.Sprintf("credential belongs to client '%s', expected '%s'", cred.ClientID(), g.clientID), nil)
	}
	if g.skipProfile {
		if g.rest != nil {
			g.rest.SetCredential(cred)
		}
		return nil
	}
	return g.verifier.VerifyProfile(ctx, cred)
}
