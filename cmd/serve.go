package cmd

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aragora/aragora/internal/config"
	"github.com/quic-go/quic-go/http3"
	"github.com/spf13/cobra"
)

var servePort string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Aragora HTTP + WebSocket server",
	Long: `Start the HTTP API and WebSocket Hub, backed by the Storage
Adapter and Debate Orchestrator. Agents are supplied per-debate via
POST /api/debates or "aragora debate start", not fixed at startup.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		if servePort != "" {
			cfg.Server.Port = servePort
		}
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}

		eng, err := buildEngine(cfg)
		if err != nil {
			return err
		}
		defer eng.Close()

		router := eng.server.Router(cfg.Server.AllowedOrigins, eng.auth, eng.limiter)
		addr := cfg.Server.BindAddr + ":" + cfg.Server.Port
		httpSrv := &http.Server{Addr: addr, Handler: router}

		errChan := make(chan error, 1)

		// HTTP/3 only stands up alongside a TLS-terminated listener: QUIC
		// has no cleartext mode, so there is no HTTP/3-without-TLS case to
		// support.
		var http3Srv *http3.Server
		useTLS := cfg.Server.EnableHTTP3 && cfg.Server.TLSCertFile != "" && cfg.Server.TLSKeyFile != ""
		if useTLS {
			httpSrv.TLSConfig = &tls.Config{NextProtos: []string{"h3", "http/1.1"}}
			http3Srv = &http3.Server{
				Addr:      addr,
				Handler:   router,
				TLSConfig: httpSrv.TLSConfig,
			}
			go func() {
				fmt.Printf("aragora serve: listening on %s (HTTP/3)\n", addr)
				if err := http3Srv.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errChan <- fmt.Errorf("http/3 server error: %w", err)
				}
			}()
		}

		go func() {
			fmt.Printf("aragora serve: listening on %s\n", addr)
			var err error
			if useTLS {
				err = httpSrv.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
			} else {
				err = httpSrv.ListenAndServe()
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				errChan <- err
			}
		}()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

		select {
		case err := <-errChan:
			return fmt.Errorf("server error: %w", err)
		case sig := <-sigChan:
			fmt.Printf("received signal %v, shutting down...\n", sig)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if http3Srv != nil {
				_ = http3Srv.Close()
			}
			return httpSrv.Shutdown(ctx)
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVarP(&servePort, "port", "p", "", "port to bind (overrides PORT env var)")
}
