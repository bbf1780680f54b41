// Command feedsim is a local stand-in for the upstream market data provider.
// It serves the profile and history REST endpoints and a websocket tick
// stream speaking the same frames the gateway expects.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"market-gateway/src/logger"

	"github.com/gin-gonic/gin"
)

func main() {
	listen := flag.String("listen", ":5090", "HTTP listen address")
	token := flag.String("token", "", "accepted bearer token (empty accepts any)")
	tickMs := flag.Int("tick-ms", 500, "interval between tick batches in ms")
	logLevel := flag.String("log-level", "INFO", "log level")
	flag.Parse()

	log := logger.NewLogger(logger.Options{Level: *logLevel, Format: "console"}, "feedsim")
	defer log.Sync()

	gin.SetMode(gin.ReleaseMode)
	sim := newSimulator(*token, time.Duration(*tickMs)*time.Millisecond, log)

	srv := &http.Server{
		Addr:              *listen,
		Handler:           sim.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("feed simulator listening on %s (ws /feed, REST /api)", *listen)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Critical("feed simulator stopped: %v", err)
	}
}
