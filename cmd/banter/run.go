package main

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/bluesky-social/banter/engage/cachestore"
	"github.com/bluesky-social/banter/engage/config"
	"github.com/bluesky-social/banter/engage/memstore"
	"github.com/bluesky-social/banter/engage/oracle"
	"github.com/bluesky-social/banter/engage/platform"
	"github.com/bluesky-social/banter/engage/scheduler"
	"github.com/bluesky-social/banter/engage/thread"
	"github.com/bluesky-social/banter/util/cliutil"

	cli "github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
	"gorm.io/plugin/opentelemetry/tracing"
)

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "run the engagement and posting loops",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "pds-host",
			Usage:   "method, hostname, and port of the account's PDS",
			Value:   "https://bsky.social",
			EnvVars: []string{"BANTER_PDS_HOST", "ATP_PDS_HOST"},
		},
		&cli.StringFlag{
			Name:     "handle",
			Usage:    "account handle or DID to log in as",
			Required: true,
			EnvVars:  []string{"BANTER_HANDLE"},
		},
		&cli.StringFlag{
			Name:     "password",
			Usage:    "app password for the account",
			Required: true,
			EnvVars:  []string{"BANTER_PASSWORD"},
		},
		&cli.Float64Flag{
			Name:    "platform-rate-limit",
			Usage:   "max requests per second to the PDS",
			Value:   5,
			EnvVars: []string{"BANTER_PLATFORM_RATE_LIMIT"},
		},
		&cli.StringFlag{
			Name:    "query",
			Usage:   "search query for candidate posts (ignored in mentions mode)",
			EnvVars: []string{"BANTER_QUERY"},
		},
		&cli.StringFlag{
			Name:    "search-mode",
			Usage:   "where candidates come from: latest, top or mentions",
			Value:   platform.ModeMentions,
			EnvVars: []string{"BANTER_SEARCH_MODE"},
		},
		&cli.IntFlag{
			Name:    "batch-size",
			Value:   scheduler.DefaultBatchSize,
			EnvVars: []string{"BANTER_BATCH_SIZE"},
		},
		&cli.StringSliceFlag{
			Name:    "post-topic",
			Usage:   "topic to post about; repeat for several",
			EnvVars: []string{"BANTER_POST_TOPICS"},
		},
		&cli.BoolFlag{
			Name:    "disable-posting",
			EnvVars: []string{"BANTER_DISABLE_POSTING"},
		},
		&cli.BoolFlag{
			Name:    "disable-engagement",
			EnvVars: []string{"BANTER_DISABLE_ENGAGEMENT"},
		},
		&cli.StringFlag{
			Name:    "oracle-url",
			Usage:   "base URL of an OpenAI-compatible chat completions API",
			Value:   "https://api.openai.com/v1",
			EnvVars: []string{"BANTER_ORACLE_URL"},
		},
		&cli.StringFlag{
			Name:    "oracle-api-key",
			EnvVars: []string{"BANTER_ORACLE_API_KEY", "OPENAI_API_KEY"},
		},
		&cli.StringFlag{
			Name:    "oracle-model",
			Value:   "gpt-4o-mini",
			EnvVars: []string{"BANTER_ORACLE_MODEL"},
		},
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "message memory database",
			Value:   "sqlite://data/banter/memory.db",
			EnvVars: []string{"DATABASE_URL"},
		},
		&cli.BoolFlag{
			Name:    "db-tracing",
			Usage:   "emit OpenTelemetry spans for database queries",
			EnvVars: []string{"BANTER_DB_TRACING"},
		},
		&cli.IntFlag{
			Name:    "max-db-connections",
			Value:   10,
			EnvVars: []string{"MAX_DB_CONNECTIONS"},
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "redis server for durable loop state; in-process memory when empty",
			EnvVars: []string{"BANTER_REDIS_URL", "REDIS_URL"},
		},
		&cli.StringFlag{
			Name:    "jaeger-url",
			Usage:   "Jaeger collector endpoint for traces, eg http://localhost:14268/api/traces",
			EnvVars: []string{"BANTER_JAEGER_URL"},
		},
		&cli.StringFlag{
			Name:    "bind",
			Usage:   "IP or address, and port, to listen on for the admin HTTP API",
			Value:   ":2480",
			EnvVars: []string{"BANTER_BIND"},
		},
	},
	Action: runBanter,
}

func openCache(cctx *cli.Context) (cachestore.CacheStore, error) {
	if url := cctx.String("redis-url"); url != "" {
		return cachestore.NewRedisCacheStore(url, "banter/", 0)
	}
	slog.Warn("no redis configured, loop state will not survive restarts")
	return cachestore.NewMemCacheStore(1000, 0), nil
}

func runBanter(cctx *cli.Context) error {
	ctx, stop := signal.NotifyContext(cctx.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	logger := slog.Default()

	shutdownTracing, err := configOTEL("banter", cctx.String("jaeger-url"))
	if err != nil {
		return fmt.Errorf("configuring tracing: %w", err)
	}
	defer shutdownTracing()

	limits, err := limitsFromFlags(cctx)
	if err != nil {
		return err
	}
	cfg, err := config.LoadFile(cctx.String("config"), logger)
	if err != nil {
		return err
	}
	if err := cfg.RequireGroups(scheduler.DefaultReplyGroup, scheduler.DefaultPostGroup); err != nil {
		return err
	}
	mode := cctx.String("search-mode")
	switch mode {
	case platform.ModeMentions:
	case platform.ModeLatest, platform.ModeTop:
		if cctx.String("query") == "" {
			return fmt.Errorf("search mode %q needs a --query", mode)
		}
	default:
		return fmt.Errorf("unknown search mode: %q", mode)
	}

	client, err := platform.NewClient(cctx.String("pds-host"), cctx.Float64("platform-rate-limit"))
	if err != nil {
		return err
	}
	if err := client.Login(ctx, cctx.String("handle"), cctx.String("password")); err != nil {
		return err
	}

	db, err := cliutil.SetupDatabase(cctx.String("database-url"), cctx.Int("max-db-connections"))
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	if cctx.Bool("db-tracing") {
		if err := db.Use(tracing.NewPlugin()); err != nil {
			return err
		}
	}
	memory, err := memstore.NewGormStore(db)
	if err != nil {
		return err
	}
	cache, err := openCache(cctx)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	gen := oracle.NewHTTPGenerator(cctx.String("oracle-url"), cctx.String("oracle-api-key"), cctx.String("oracle-model"))
	maxLength := cctx.Int("max-post-length")

	// each loop gets its own random source and selector state
	eng := scheduler.NewEngagement(limits, cfg.Catalog, cfg.Special, nil, nil)
	eng.Self = client.Self()
	eng.Query = cctx.String("query")
	eng.Mode = mode
	eng.BatchSize = cctx.Int("batch-size")
	eng.MaxLength = maxLength
	eng.Fetcher = client
	eng.Generator = gen
	eng.Sender = client
	eng.Cache = cache
	eng.Reconstructor = &thread.Reconstructor{
		Fetcher:  client,
		Memory:   memory,
		MaxDepth: limits.MaxThreadDepth,
		Logger:   logger.With("component", "thread"),
	}

	poster := scheduler.NewPoster(cfg.Catalog, nil, nil)
	poster.MinDelay = time.Duration(cctx.Int("post-min-delay-minutes")) * time.Minute
	poster.MaxDelay = time.Duration(cctx.Int("post-max-delay-minutes")) * time.Minute
	poster.MaxLength = maxLength
	poster.Topics = cctx.StringSlice("post-topic")
	poster.Generator = gen
	poster.Sender = client
	poster.Cache = cache
	if err := poster.Validate(); err != nil {
		return err
	}

	srv, err := NewServer(logger, cache, ServerConfig{Bind: cctx.String("bind")})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	if !cctx.Bool("disable-engagement") {
		g.Go(func() error { return eng.Run(gctx) })
	}
	if !cctx.Bool("disable-posting") {
		g.Go(func() error { return poster.Run(gctx) })
	}
	g.Go(func() error { return srv.Run(gctx) })

	logger.Info("banter running", "did", eng.Self, "mode", eng.Mode, "specialInteractions", len(cfg.Special))
	err = g.Wait()
	if err != nil && ctx.Err() == nil {
		return err
	}
	logger.Info("graceful shutdown complete")
	return nil
}
