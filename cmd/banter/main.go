package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/bluesky-social/banter/engage"
	"github.com/bluesky-social/banter/engage/scheduler"
	"github.com/bluesky-social/banter/util/cliutil"

	"github.com/carlmjohnson/versioninfo"
	_ "github.com/joho/godotenv/autoload"
	cli "github.com/urfave/cli/v2"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("exiting", "err", err)
		os.Exit(-1)
	}
}

func run(args []string) error {

	app := cli.App{
		Name:    "banter",
		Usage:   "social engagement agent: replies to mentions and searches, and posts on a timer",
		Version: versioninfo.Short(),
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "log verbosity level (eg: warn, info, debug)",
			EnvVars: []string{"BANTER_LOG_LEVEL", "LOG_LEVEL"},
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "log output format: text or json",
			EnvVars: []string{"BANTER_LOG_FMT", "LOG_FMT"},
		},
		&cli.StringFlag{
			Name:    "config",
			Usage:   "path to YAML file with the template catalog and special interactions",
			Value:   "banter.yaml",
			EnvVars: []string{"BANTER_CONFIG"},
		},
	}
	app.Flags = append(app.Flags, limitFlags...)

	app.Before = func(cctx *cli.Context) error {
		_, err := cliutil.SetupSlog(cliutil.LogOptions{
			LogLevel:  cctx.String("log-level"),
			LogFormat: cctx.String("log-format"),
		})
		return err
	}

	app.Commands = []*cli.Command{
		runCmd,
		checkConfigCmd,
		selectCmd,
		threadCmd,
	}

	return app.Run(args)
}

// Every numeric setting can be overridden from the environment.
var limitFlags = []cli.Flag{
	&cli.IntFlag{
		Name:    "max-replies-per-user",
		Usage:   "replies to any one user before they stop being answered",
		Value:   5,
		EnvVars: []string{"MAX_REPLIES_PER_USER"},
	},
	&cli.Int64Flag{
		Name:    "min-time-between-replies",
		Usage:   "minimum milliseconds between two replies to the same user",
		Value:   300_000,
		EnvVars: []string{"MIN_TIME_BETWEEN_REPLIES"},
	},
	&cli.Float64Flag{
		Name:    "reply-probability",
		Usage:   "chance of replying to a candidate which passed the rate limits",
		Value:   0.5,
		EnvVars: []string{"REPLY_PROBABILITY"},
	},
	&cli.IntFlag{
		Name:    "max-replies-per-thread",
		Usage:   "replies posted into any one conversation",
		Value:   3,
		EnvVars: []string{"MAX_REPLIES_PER_THREAD"},
	},
	&cli.IntFlag{
		Name:    "check-interval-minutes",
		Usage:   "minutes between engagement checks",
		Value:   5,
		EnvVars: []string{"CHECK_INTERVAL_MINUTES"},
	},
	&cli.IntFlag{
		Name:    "max-thread-depth",
		Usage:   "messages of context to reconstruct for a reply",
		Value:   10,
		EnvVars: []string{"MAX_THREAD_DEPTH"},
	},
	&cli.Int64Flag{
		Name:    "max-replies-per-day",
		Usage:   "global cap on replies in any 24 hour window (0 disables)",
		Value:   0,
		EnvVars: []string{"MAX_REPLIES_PER_DAY"},
	},
	&cli.IntFlag{
		Name:    "post-min-delay-minutes",
		Value:   int(scheduler.DefaultMinDelay / time.Minute),
		EnvVars: []string{"POST_MIN_DELAY_MINUTES"},
	},
	&cli.IntFlag{
		Name:    "post-max-delay-minutes",
		Value:   int(scheduler.DefaultMaxDelay / time.Minute),
		EnvVars: []string{"POST_MAX_DELAY_MINUTES"},
	},
	&cli.IntFlag{
		Name:    "max-post-length",
		Usage:   "length limit for generated text, in grapheme clusters",
		Value:   scheduler.DefaultMaxLength,
		EnvVars: []string{"MAX_POST_LENGTH"},
	},
}

func limitsFromFlags(cctx *cli.Context) (engage.Limits, error) {
	limits := engage.Limits{
		MaxRepliesPerThread:   cctx.Int("max-replies-per-thread"),
		MaxRepliesPerUser:     cctx.Int("max-replies-per-user"),
		MinTimeBetweenReplies: time.Duration(cctx.Int64("min-time-between-replies")) * time.Millisecond,
		CheckInterval:         time.Duration(cctx.Int("check-interval-minutes")) * time.Minute,
		ReplyProbability:      cctx.Float64("reply-probability"),
		MaxThreadDepth:        cctx.Int("max-thread-depth"),
		MaxRepliesPerDay:      cctx.Int64("max-replies-per-day"),
	}
	if err := limits.Validate(); err != nil {
		return limits, fmt.Errorf("loading limits: %w", err)
	}
	return limits, nil
}
