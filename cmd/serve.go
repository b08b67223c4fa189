package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/theapemachine/synapse/pkg/auth"
	"github.com/theapemachine/synapse/pkg/dispatch"
	"github.com/theapemachine/synapse/pkg/handlers"
	"github.com/theapemachine/synapse/pkg/hub"
	"github.com/theapemachine/synapse/pkg/observability"
	"github.com/theapemachine/synapse/pkg/observability/prom"
	"github.com/theapemachine/synapse/pkg/registry"
	"github.com/theapemachine/synapse/pkg/stores/sqlite"
	"github.com/theapemachine/synapse/pkg/vault"
)

var serveCmd = &cobra.Command{
	Use:          "serve",
	Short:        "Run the hub",
	Long:         longServe,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tokenVault, err := vault.New(viper.GetString("FERNET_KEY"))

	if err != nil {
		return fmt.Errorf("FERNET_KEY is unusable: %w", err)
	}

	store, err := sqlite.New(viper.GetString("DATABASE_URL"))

	if err != nil {
		return fmt.Errorf("failed to open repository: %w", err)
	}

	defer store.Close()

	verifier := auth.NewVerifier(
		viper.GetString("JWT_SECRET"), viper.GetString("JWT_ALGORITHM"),
	)

	reg := registry.New(viper.GetInt("OUTBOX_SIZE"))
	dispatcher := dispatch.New()

	if err := handlers.RegisterAll(dispatcher, handlers.Config{
		Repository: store,
		Registry:   reg,
		Verifier:   verifier,
		Vault:      tokenVault,
	}); err != nil {
		return err
	}

	observer, metrics := buildObserver()

	if metrics != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metrics.Shutdown(shutdownCtx)
		}()
	}

	var limiter *auth.RateLimiter

	if rate := viper.GetInt64("HANDSHAKE_RATE"); rate > 0 {
		limiter = auth.NewRateLimiter(rate, time.Minute)
	}

	h, err := hub.New(hub.Config{
		Repository:    store,
		Registry:      reg,
		Dispatcher:    dispatcher,
		Observer:      observer,
		Limiter:       limiter,
		MaxFrameBytes: viper.GetInt("MAX_FRAME_BYTES"),
	})

	if err != nil {
		return err
	}

	addr := net.JoinHostPort(
		viper.GetString("HOST"), strconv.Itoa(viper.GetInt("PORT")),
	)

	listener, err := hub.NewTLSListener(
		addr, viper.GetString("TLS_CERT"), viper.GetString("TLS_KEY"),
	)

	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", addr, err)
	}

	return hub.NewServer(h).Serve(ctx, listener)
}

/*
buildObserver returns the noop observer unless METRICS_ADDR is set, in which
case hub events feed a Prometheus registry exposed on that address.
*/
func buildObserver() (observability.HubObserver, *http.Server) {
	metricsAddr := viper.GetString("METRICS_ADDR")

	if metricsAddr == "" {
		return observability.NoopHubObserver, nil
	}

	promRegistry := prom.NewRegistry()
	mux := http.NewServeMux()
	mux.Handle("/metrics", prom.Handler(promRegistry))

	metrics := &http.Server{Addr: metricsAddr, Handler: mux}

	go func() {
		log.Info("metrics listening", "addr", metricsAddr)

		if err := metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics listener failed", "error", err)
		}
	}()

	return prom.NewHubObserver(promRegistry), metrics
}

/*
longServe contains the detailed help text for the serve command.
*/
var longServe = `
Run the hub until interrupted. The listener terminates TLS with the
configured certificate, every accepted stream is authenticated with a
connect handshake, and brokered payloads are fanned out according to the
stored permissions.

Requires FERNET_KEY, TLS_CERT, and TLS_KEY; everything else has defaults:

  HOST=localhost PORT=8765 DATABASE_URL=synapse.db JWT_SECRET=secret
  JWT_ALGORITHM=HS256 LOG_LEVEL=info DEBUG=false METRICS_ADDR=
  MAX_FRAME_BYTES=1048576 OUTBOX_SIZE=256 HANDSHAKE_RATE=0
`
