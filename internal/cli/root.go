// Package cli implements the conthunt command line client.
package cli

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/conthunt/streamcore/internal/api"
	"github.com/conthunt/streamcore/internal/auth"
	"github.com/conthunt/streamcore/internal/config"
	natsclient "github.com/conthunt/streamcore/internal/nats"
	"github.com/conthunt/streamcore/internal/stream"
	"github.com/conthunt/streamcore/pkg/logger"
	"github.com/conthunt/streamcore/pkg/tracing"
)

var (
	apiURL       string
	apiToken     string
	outputFormat string
	logLevel     string
)

// runtime holds the collaborators built for one command execution.
type runtime struct {
	cfg       *config.Config
	log       *logger.Logger
	client    *api.Client
	consumer  *stream.Consumer
	nats      *natsclient.Client
	publisher *natsclient.Publisher
	tp        *sdktrace.TracerProvider
}

var rt *runtime

var rootCmd = &cobra.Command{
	Use:   "conthunt",
	Short: "Search short-form video platforms and chat with the research assistant",
	Long: `conthunt streams search results from several content platforms into
one deduplicated result set, pages through them on demand, and talks to the
research assistant over a streaming chat.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "API base URL (default $CONTHUNT_API_URL)")
	rootCmd.PersistentFlags().StringVar(&apiToken, "token", "", "bearer token (default $CONTHUNT_API_TOKEN, else a development token)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "text", "output format: text, json or yaml")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (default $LOG_LEVEL)")

	cobra.OnFinalize(teardown)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func setup(cmd *cobra.Command, _ []string) error {
	if _, err := parseFormat(outputFormat); err != nil {
		return err
	}
	if err := config.LoadDotEnv(); err != nil {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := config.Load()
	if apiURL != "" {
		cfg.APIBaseURL = apiURL
	}
	if apiToken != "" {
		cfg.APIToken = apiToken
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	log, err := logger.NewWithOutput(cfg.LogLevel, "stderr")
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	r := &runtime{cfg: cfg, log: log}
	rt = r

	ctx := cmd.Context()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "conthunt", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			r.tp = tp
		}
	}

	var observer stream.JobObserver
	if cfg.NATSURL != "" {
		nc, err := natsclient.Connect(ctx, natsclient.Config{
			URL:      cfg.NATSURL,
			Name:     "conthunt-cli",
			Token:    cfg.NATSToken,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
		}, log)
		if err != nil {
			log.Warn("job telemetry disabled", zap.Error(err))
		} else {
			r.nats = nc
			r.publisher = natsclient.NewPublisher(nc)
			if err := r.publisher.EnsureStream(ctx); err != nil {
				log.Warn("failed to ensure job stream", zap.Error(err))
			}
			observer = r.publisher
		}
	}

	client, err := api.New(api.Options{
		BaseURL:    cfg.APIBaseURL,
		HTTPClient: &http.Client{Timeout: cfg.RequestTimeout},
		Tokens:     tokenSource(cfg),
		Limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), cfg.RequestBurst),
		Logger:     log,
		OnSessionInvalid: func() {
			log.Warn("session is no longer valid, sign in again")
		},
	})
	if err != nil {
		return err
	}
	r.client = client

	r.consumer = stream.NewConsumer(stream.Options{
		BaseURL:  cfg.APIBaseURL,
		Logger:   log,
		Observer: observer,
	})
	return nil
}

func teardown() {
	r := rt
	if r == nil {
		return
	}
	rt = nil

	if r.consumer != nil {
		r.consumer.Close()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if r.publisher != nil {
		if err := r.publisher.Flush(ctx); err != nil {
			r.log.Warn("job telemetry not flushed", zap.Error(err))
		}
	}
	if r.nats != nil {
		r.nats.Close()
	}
	tracing.Shutdown(ctx, r.tp)
	_ = r.log.Sync()
}

func tokenSource(cfg *config.Config) auth.Source {
	if cfg.APIToken != "" {
		return auth.Static(cfg.APIToken)
	}
	return auth.NewOAuth2Source(&auth.DevTokenSource{
		Secret: cfg.DevJWTSecret,
		UserID: cfg.DevUserID,
		TTL:    cfg.DevTokenTTL,
	})
}
