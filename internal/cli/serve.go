package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Houngansi/SuspenseCore-sub009/internal/config"
	"github.com/Houngansi/SuspenseCore-sub009/internal/loadout"
	"github.com/Houngansi/SuspenseCore-sub009/internal/server"
	"github.com/Houngansi/SuspenseCore-sub009/internal/store"
	"github.com/Houngansi/SuspenseCore-sub009/internal/transport"
)

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 5 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Config   string
	Loadout  string
	Database string
	Addr     string
	NoJoin   bool
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the equipment server",
		Long: `Start the authoritative equipment server.

The server loads its configuration (defaults, then --config, then
SUSPENSE_* environment variables, then flags), opens the journal
database and serves WebSocket sessions on /ws plus the HTTP API.
Queued requests and replication run on a fixed tick.

Examples:
  suspensed serve
  suspensed serve --config ./suspense.yaml --addr :9000
  suspensed serve --loadout ./loadouts/assault.yaml --db ""`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Config, "config", "c", "", "YAML config file")
	cmd.Flags().StringVar(&opts.Loadout, "loadout", "", "loadout file or CUE directory (overrides server.loadout)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "journal database path (overrides store.path; empty string disables)")
	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides server.addr)")
	cmd.Flags().BoolVar(&opts.NoJoin, "no-auto-join", false, "reject sessions for players the server does not know")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Addr != "" {
		cfg.Server.Addr = opts.Addr
	}
	if opts.Loadout != "" {
		cfg.Server.Loadout = opts.Loadout
	}
	if cmd.Flags().Changed("db") {
		cfg.Store.Path = opts.Database
	}

	lo := loadout.Default()
	if cfg.Server.Loadout != "" {
		slog.Info("loading loadout", "path", cfg.Server.Loadout)
		if lo, err = loadout.Load(cfg.Server.Loadout); err != nil {
			return WrapExitError(ExitCommandError, "failed to load loadout", err)
		}
	}

	var svcOpts []server.Option
	if cfg.Store.Path != "" {
		slog.Info("opening database", "path", cfg.Store.Path)
		st, err := store.Open(cfg.Store.Path)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				slog.Error("error closing database", "error", closeErr)
			}
		}()
		svcOpts = append(svcOpts, server.WithStore(st))
	}

	svc, err := server.New(cfg, lo, svcOpts...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create service", err)
	}
	defer svc.Close()

	hub := transport.NewHub(svc, transport.WithAutoJoin(!opts.NoJoin))
	defer hub.Close()

	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}
	srv := &http.Server{
		Handler:           transport.NewRouter(svc, hub),
		ReadHeaderTimeout: 10 * time.Second,
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	runDone := make(chan error, 1)
	go func() { runDone <- svc.Run(ctx, hub.Dispatch) }()

	serveDone := make(chan error, 1)
	go func() { serveDone <- srv.Serve(ln) }()

	slog.Info("server started", "addr", ln.Addr().String(), "loadout", lo.Name, "journal", cfg.Store.Path)
	fmt.Fprintf(cmd.OutOrStdout(), "listening on %s\n", ln.Addr())
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-serveDone:
		cancel()
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown", "error", err)
	}
	<-runDone

	if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		return WrapExitError(ExitFailure, "server error", serveErr)
	}
	slog.Info("server stopped gracefully")
	return nil
}
