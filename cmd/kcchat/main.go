package main

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

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kcstream/kcchat/internal/chat"
	"github.com/kcstream/kcchat/internal/config"
	"github.com/kcstream/kcchat/internal/logging"
	"github.com/kcstream/kcchat/internal/metrics"
	"github.com/kcstream/kcchat/internal/overlay"
	"github.com/kcstream/kcchat/internal/paypal"
	"github.com/kcstream/kcchat/internal/store"
	"github.com/kcstream/kcchat/internal/tlsutil"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "0.1"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

const (
	chatAddr    = ":2002"
	overlayAddr = ":2001"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:     "kcchat",
	Short:   "kcchat - real-time chat relay and overlay server",
	Long:    `kcchat is a WebSocket chat relay with moderation commands, donation verification, and a stream overlay event feed`,
	Version: Version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("kcchat %s\n", Version)
		if BuildTime != "unknown" {
			fmt.Printf("Built: %s\n", BuildTime)
		}
		if GitCommit != "unknown" {
			fmt.Printf("Commit: %s\n", GitCommit)
		}
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration utilities",
}

var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		fmt.Println("Configuration OK")
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "path to config file")
	configCmd.AddCommand(configCheckCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServer() error {
	// Baseline logger for early startup logs
	logging.Init(logging.Config{
		Format:    "auto",
		Level:     "info",
		Component: "kcchat",
	})

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Re-initialize logging with configuration-driven settings
	logging.Init(logging.Config{
		Format:    cfg.String("log_format"),
		Level:     cfg.String("log_level"),
		Component: "kcchat",
	})

	log.Info().Str("version", Version).Msg("Starting chat relay")

	st, err := store.Open(cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	log.Info().Msg("Successfully connected to database")

	dispatcher := overlay.NewDispatcher()

	srv := chat.New(chat.Options{
		Config:  cfg,
		Store:   st,
		PayPal:  paypal.NewClient(cfg.String("paypal_client_id"), cfg.String("paypal_client_secret"), cfg.Bool("paypal_live")),
		Overlay: dispatcher.Send,
		Version: Version,
	})
	if err := srv.LoadResponses(); err != nil {
		log.Error().Err(err).Msg("Failed to load simple responses")
	}

	tlsConfig, reloader, err := buildTLSConfig(cfg)
	if err != nil {
		return err
	}
	if reloader != nil {
		if err := reloader.Start(); err != nil {
			return err
		}
		defer reloader.Stop()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		srv.Run(ctx)
		return nil
	})

	g.Go(func() error {
		dispatcher.Run(ctx)
		return nil
	})

	g.Go(func() error {
		return listen(ctx, chatAddr, "chat", http.HandlerFunc(srv.HandleWebSocket), tlsConfig)
	})

	g.Go(func() error {
		return listen(ctx, overlayAddr, "overlay", http.HandlerFunc(dispatcher.HandleWebSocket), tlsConfig)
	})

	if addr := cfg.String("metrics_addr"); addr != "" {
		g.Go(func() error {
			return metrics.Serve(ctx, addr)
		})
	}

	startConsole(ctx, srv)

	return g.Wait()
}

// buildTLSConfig assembles the server TLS configuration from the ssl_*
// config keys. The certificate is hot-reloaded when the files change.
// Without SSL material the listeners serve plain ws://.
func buildTLSConfig(cfg *config.Config) (*tls.Config, *tlsutil.Reloader, error) {
	keyFile := cfg.String("ssl_key")
	crtFile := cfg.String("ssl_crt")

	base, err := tlsutil.Load(keyFile, crtFile, cfg.String("ssl_ca"))
	if err != nil {
		return nil, nil, err
	}
	if base == nil {
		return nil, nil, nil
	}

	reloader, err := tlsutil.NewReloader(keyFile, crtFile)
	if err != nil {
		return nil, nil, err
	}

	base.Certificates = nil
	base.GetCertificate = reloader.GetCertificate
	return base, reloader, nil
}

// listen serves a WebSocket endpoint until ctx is cancelled.
func listen(ctx context.Context, addr, name string, handler http.Handler, tlsConfig *tls.Config) error {
	srv := &http.Server{
		Addr:      addr,
		Handler:   handler,
		TLSConfig: tlsConfig,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn().Err(err).Str("server", name).Msg("Failed to shut down listener cleanly")
		}
	}()

	log.Info().Str("addr", addr).Bool("tls", tlsConfig != nil).Msgf("Listening for %s server", name)

	var err error
	if tlsConfig != nil {
		err = srv.ListenAndServeTLS("", "")
	} else {
		err = srv.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
