package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/dkeye/CallBridge/internal/adapters/http"
	wssignal "github.com/dkeye/CallBridge/internal/adapters/signal"
	"github.com/dkeye/CallBridge/internal/app"
	"github.com/dkeye/CallBridge/internal/app/callsystem"
	"github.com/dkeye/CallBridge/internal/config"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load(nil)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Mode == "debug" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	reg := app.NewRegistry()
	calls := callsystem.New(
		wssignal.LinkEmitter{Registry: reg},
		callsystem.WithAccounts(reg),
		callsystem.WithAllowCalls(cfg.Host.AllowCalls),
	)

	ctl := wssignal.NewSignalWSController(reg, calls)
	ctl.ReadLimit = cfg.ReadLimit
	ctl.SendBuffer = cfg.Host.SendBuffer
	if cfg.Host.StartLimit > 0 {
		ctl.Limiter = wssignal.NewRequestRateLimiter(cfg.Host.StartLimit, cfg.Host.StartInterval)
	}

	go func() {
		if err := calls.Run(ctx); err != nil {
			log.Error().Err(err).Msg("call system stopped")
		}
	}()

	r := router.SetupRouter(ctx, cfg, ctl, calls)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("call system server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
