package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/nghyane/tokenproxy/internal/acquirer"
	"github.com/nghyane/tokenproxy/internal/config"
	"github.com/nghyane/tokenproxy/internal/health"
	log "github.com/nghyane/tokenproxy/internal/logging"
	"github.com/nghyane/tokenproxy/internal/proxyserver"
	"github.com/nghyane/tokenproxy/internal/refresher"
	"github.com/nghyane/tokenproxy/internal/tokenpool"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the token pool proxy",
	Long: `Start the token pool proxy server.

This loads the configuration, logs into the upstream credential enough
times to fill the pool, and starts the forward-proxy listener alongside
a separate health/admin listener.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	log.SetupBaseLogger()

	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("failed to load .env file")
	}

	configPath := cfgFile
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.LoadOptional(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	config.ApplyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if err := log.SetLevel(cfg.Logging.Level); err != nil {
		log.WithError(err).Warn("invalid log level, keeping default")
	}
	if cfg.Logging.ToFile {
		fileCfg := log.FileConfig{
			Path:       cfg.Logging.FilePath,
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAgeDays: cfg.Logging.MaxAgeDays,
			Compress:   true,
		}
		if err := log.ConfigureLogOutput(true, fileCfg); err != nil {
			return fmt.Errorf("failed to configure log output: %w", err)
		}
	}

	acq := acquirer.New(cfg.Upstream.BaseURL())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tokens, err := acq.AcquireN(ctx, cfg.Credential, cfg.Token.PoolSize)
	if err != nil {
		return fmt.Errorf("failed to acquire initial token pool: %w", err)
	}
	if len(tokens) < cfg.Token.PoolSize {
		log.Warnf("starting in a degraded state: acquired %d/%d tokens", len(tokens), cfg.Token.PoolSize)
	}

	seeds := make([]tokenpool.SeedToken, len(tokens))
	for i, tok := range tokens {
		seeds[i] = tokenpool.SeedToken{Value: tok, Credential: cfg.Credential}
	}
	pool, err := tokenpool.New(seeds)
	if err != nil {
		return fmt.Errorf("failed to build token pool: %w", err)
	}

	live := config.NewLiveTTL(cfg)
	stopWatch, err := config.Watch(configPath, live)
	if err != nil {
		log.WithError(err).Warn("config: hot-reload watcher disabled")
		stopWatch = func() {}
	}
	defer stopWatch()

	refr := refresher.New(pool, acq, cfg.Token.TTL(), cfg.Token.CheckInterval())

	proxy, err := proxyserver.New(cfg.ListenAddr, cfg.Upstream.BaseURL(), pool)
	if err != nil {
		return fmt.Errorf("failed to build proxy server: %w", err)
	}

	healthSrv := health.New(cfg.HealthListenAddr, pool)

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 3)
	go func() { refr.Run(sigCtx, live); errCh <- nil }()
	go func() { errCh <- proxy.Run(sigCtx) }()
	go func() { errCh <- healthSrv.Run(sigCtx) }()

	<-sigCtx.Done()
	log.Infof("serve: shutdown signal received")

	var firstErr error
	for i := 0; i < 3; i++ {
		if e := <-errCh; e != nil && firstErr == nil {
			firstErr = e
		}
	}
	return firstErr
}
