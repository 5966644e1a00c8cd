package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"routekit/internal/hostrpc"
	"routekit/internal/trace"
	"routekit/internal/watch"
)

var (
	serveListen   string
	serveStdio    bool
	serveDebounce time.Duration
)

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "127.0.0.1:7733", "address for the websocket and metrics endpoints")
	serveCmd.Flags().BoolVar(&serveStdio, "stdio", false, "serve JSON-RPC on stdin/stdout instead of HTTP")
	serveCmd.Flags().DurationVar(&serveDebounce, "debounce", 50*time.Millisecond, "file change debounce for watched projects")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve projects and entrypoint subscriptions to a host over JSON-RPC",
	Long: `Serve the routekit host protocol. By default it listens for websocket
connections on /rpc and exposes Prometheus metrics on /metrics. With --stdio it
serves a single host over Content-Length framed stdin/stdout.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := hostrpc.SessionOptions{
		Logger: slog.Default(),
		Watch:  watch.Options{Debounce: serveDebounce},
		Tracer: trace.FromContext(cmd.Context()),
	}
	if serveStdio {
		err := hostrpc.NewServer(cmd.InOrStdin(), cmd.OutOrStdout(), opts).Run(ctx)
		if errors.Is(err, hostrpc.ErrExit) {
			return nil
		}
		return err
	}

	ln, err := net.Listen("tcp", serveListen)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           hostrpc.NewHandler(opts),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	slog.Info("serving", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
