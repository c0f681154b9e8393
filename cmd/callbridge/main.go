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
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	router "github.com/dkeye/CallBridge/internal/adapters/http"
	"github.com/dkeye/CallBridge/internal/adapters/rooms"
	"github.com/dkeye/CallBridge/internal/adapters/rtc"
	wssignal "github.com/dkeye/CallBridge/internal/adapters/signal"
	"github.com/dkeye/CallBridge/internal/app"
	"github.com/dkeye/CallBridge/internal/app/callsystem"
	"github.com/dkeye/CallBridge/internal/app/lifecycle"
	"github.com/dkeye/CallBridge/internal/config"
	"github.com/dkeye/CallBridge/internal/core"
	"github.com/dkeye/CallBridge/internal/domain"
)

// loopbackSession names the in-process link used when the host runs inside
// the bridge.
const loopbackSession core.SessionID = "local"

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("callbridge exited")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "callbridge",
		Short:         "Bridge host call requests into a WebRTC call engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cmd.Flags())
		},
	}

	flags := cmd.Flags()
	flags.String("host-mode", config.HostModeRemote, "Host connection: remote or loopback")
	flags.String("host-url", "", "Websocket URL of the host call system")
	flags.String("room-url", "", "Room joined by UI start requests")
	flags.Int("ui-port", 8090, "Port of the local control UI")

	return cmd
}

func run(ctx context.Context, flags *pflag.FlagSet) error {
	cfg, err := config.Load(flags)
	if err != nil {
		return err
	}
	if cfg.Mode == "debug" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	policy, err := app.PolicyFromName(cfg.Bridge.BusyPolicy)
	if err != nil {
		return err
	}

	events := app.NewChannel()
	engine := rtc.NewEngine(
		rtc.WithICEServers(cfg.Engine.ICEServers...),
		rtc.WithJoinTimeout(cfg.Engine.JoinTimeout),
	)

	g, ctx := errgroup.WithContext(ctx)

	var (
		provisioner core.RoomProvisioner
		reporter    core.Reporter
	)
	switch cfg.Host.Mode {
	case config.HostModeLoopback:
		provisioner = rooms.Local{BaseURL: cfg.Rooms.BaseURL}
		sys := callsystem.New(
			callsystem.EmitterFunc(func(_ core.SessionID, ev domain.Event) { events.Publish(ev) }),
			callsystem.WithAllowCalls(cfg.Host.AllowCalls),
		)
		reporter = sys.Reporter(loopbackSession)
		g.Go(func() error { return sys.Run(ctx) })
	default:
		provisioner = rooms.NewClient(cfg.Rooms.Service,
			rooms.WithEndpoint(cfg.Rooms.Endpoint),
			rooms.WithTimeout(cfg.Rooms.Timeout),
		)
		client := wssignal.NewClient(cfg.Host.URL, events,
			wssignal.WithLabel(cfg.Host.Label),
			wssignal.WithReconnectInterval(cfg.Host.ReconnectInterval),
			wssignal.WithPingPeriod(cfg.PingPeriod),
			wssignal.WithReadLimit(cfg.ReadLimit),
			wssignal.WithSendBuffer(cfg.Host.SendBuffer),
		)
		reporter = client.Reporter()
		g.Go(func() error { return client.Run(ctx) })
	}

	machine := lifecycle.New(engine, provisioner, reporter,
		lifecycle.WithPolicy(policy),
		lifecycle.WithOpTimeout(cfg.Bridge.OpTimeout),
	)
	machine.Attach(events)
	defer machine.Close()

	addr := fmt.Sprintf(":%d", cfg.Bridge.UIPort)
	srv := &http.Server{
		Addr:    addr,
		Handler: router.SetupUIRouter(cfg, machine),
	}

	g.Go(func() error {
		log.Info().Str("addr", addr).Str("host_mode", cfg.Host.Mode).Msg("callbridge started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		return err
	}
	log.Info().Msg("callbridge exited gracefully")
	return nil
}
