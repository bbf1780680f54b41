package credentials

import (
	"context"
	"errors"
	"sync"
	"time"

	"market-gateway/src/interfaces"
	"market-gateway/src/logger"
)

// -----------------------------------------------------------------------------
// Watcher polls a credential source and (re)initializes the feed when the
// feed is not authenticated or the credential generation moved.
// -----------------------------------------------------------------------------

type Watcher struct {
	Logger       *logger.Logger
	PollInterval time.Duration
	ErrorBackoff time.Duration

	source interfaces.ICredentialSource
	feed   interfaces.IFeedInitializer

	mu              sync.RWMutex
	authInitialized bool
	lastGeneration  uint64
	expiries        uint64

	// Generation rejected by the upstream and when. The same generation is
	// retried at most once per PollInterval.
	expiredGeneration uint64
	expiredAt         time.Time

	wake chan struct{}
	now  func() time.Time
}

// -----------------------------------------------------------------------------

func NewWatcher(source interfaces.ICredentialSource, feed interfaces.IFeedInitializer, poll, errorBackoff time.Duration, log *logger.Logger) *Watcher {
	if poll <= 0 {
		poll = 5 * time.Second
	}
	if errorBackoff <= 0 {
		errorBackoff = 2 * poll
	}
	return &Watcher{
		Logger:       log,
		PollInterval: poll,
		ErrorBackoff: errorBackoff,
		source:       source,
		feed:         feed,
		wake:         make(chan struct{}, 1),
		now:          time.Now,
	}
}

// -----------------------------------------------------------------------------

// Run polls until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	w.Logger.Info("Credential watcher started (every %v)", w.PollInterval)
	for {
		wait := w.PollInterval
		if err := w.Poll(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			wait = w.ErrorBackoff
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-w.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// -----------------------------------------------------------------------------

// Poll performs one check. It returns the source or initialization error, if
// any; a missing credential is not an error.
func (w *Watcher) Poll(ctx context.Context) error {
	cred, err := w.source.Load(ctx)
	if err != nil {
		if errors.Is(err, ErrNoCredential) {
			w.Logger.Debug("No upstream credential available yet")
			return nil
		}
		w.Logger.Error("Credential source error: %v", err)
		return err
	}

	w.mu.Lock()
	current := w.authInitialized && cred.Generation == w.lastGeneration
	cooling := !w.authInitialized && w.expiries > 0 &&
		cred.Generation == w.expiredGeneration &&
		w.now().Sub(w.expiredAt) < w.PollInterval
	epoch := w.expiries
	if !current && !cooling {
		w.lastGeneration = cred.Generation
	}
	w.mu.Unlock()
	if current {
		return nil
	}
	if cooling {
		w.Logger.Debug("Credential generation %d was rejected, waiting for a new one", cred.Generation)
		return nil
	}

	w.Logger.Info("Initializing upstream feed with credential generation %d (client %s)", cred.Generation, cred.ClientID())
	if err := w.feed.Initialize(ctx, cred); err != nil {
		w.Logger.Error("Upstream initialization failed: %v", err)
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	// An expiry reported while Initialize was running wins.
	if w.expiries != epoch {
		return nil
	}
	w.authInitialized = true
	w.Logger.Info("Upstream feed authenticated")
	return nil
}

// -----------------------------------------------------------------------------

// MarkExpired clears the authenticated flag and triggers an early poll. The
// early poll only reinitializes if the credential generation has moved.
func (w *Watcher) MarkExpired(err error) {
	w.mu.Lock()
	w.authInitialized = false
	w.expiries++
	w.expiredGeneration = w.lastGeneration
	w.expiredAt = w.now()
	w.mu.Unlock()
	w.Logger.Warning("Credential marked expired: %v", err)

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// -----------------------------------------------------------------------------

func (w *Watcher) AuthInitialized() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.authInitialized
}
