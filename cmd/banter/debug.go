package main

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/bluesky-social/banter/engage"
	"github.com/bluesky-social/banter/engage/config"
	"github.com/bluesky-social/banter/engage/oracle"
	"github.com/bluesky-social/banter/engage/platform"
	"github.com/bluesky-social/banter/engage/templates"
	"github.com/bluesky-social/banter/engage/thread"

	cli "github.com/urfave/cli/v2"
	"github.com/xlab/treeprint"
)

var checkConfigCmd = &cli.Command{
	Name:  "check-config",
	Usage: "load and validate the limits and configuration file, then exit",
	Action: func(cctx *cli.Context) error {
		limits, err := limitsFromFlags(cctx)
		if err != nil {
			return err
		}
		cfg, err := config.LoadFile(cctx.String("config"), slog.Default())
		if err != nil {
			return err
		}

		fmt.Printf("limits: %+v\n", limits)
		groups := make([]string, 0, len(cfg.Catalog))
		for g := range cfg.Catalog {
			groups = append(groups, g)
		}
		sort.Strings(groups)
		for _, g := range groups {
			fmt.Printf("group %s: %d templates\n", g, len(cfg.Catalog[g]))
		}
		for _, rule := range cfg.Special {
			fmt.Printf("special %s: %d templates, probability %v, cooldown %s\n", rule.Handle, len(rule.Templates), rule.Probability, rule.Cooldown)
		}
		for _, err := range cfg.Dropped {
			fmt.Printf("dropped: %s\n", err)
		}
		if len(cfg.Dropped) > 0 {
			return fmt.Errorf("%d special interaction entries are invalid", len(cfg.Dropped))
		}
		return nil
	},
}

var selectCmd = &cli.Command{
	Name:      "select",
	Usage:     "dry-run template selection for a message, and print the rendered prompt",
	ArgsUsage: "<text>",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "group",
			Value: "reply",
		},
		&cli.StringFlag{
			Name:  "author",
			Usage: "author handle of the message",
		},
		&cli.StringFlag{
			Name: "topic",
		},
		&cli.IntFlag{
			Name:  "depth",
			Usage: "thread depth to pretend",
			Value: 1,
		},
	},
	Action: func(cctx *cli.Context) error {
		cfg, err := config.LoadFile(cctx.String("config"), slog.Default())
		if err != nil {
			return err
		}
		rec := templates.Record{
			Text:         cctx.Args().First(),
			AuthorHandle: cctx.String("author"),
			ThreadDepth:  cctx.Int("depth"),
			Topic:        cctx.String("topic"),
			Now:          time.Now(),
		}
		sel := templates.NewSelector(cfg.Catalog, engage.NewRand(), nil)
		tmpl, ok := sel.Select(cctx.String("group"), &rec)
		if !ok {
			return fmt.Errorf("group %q: %w", cctx.String("group"), engage.ErrNoTemplate)
		}
		gen := oracle.NewHTTPGenerator("", "", "")
		prompt, err := gen.Render(oracle.Request{Group: cctx.String("group"), Template: tmpl, Vars: rec.Vars()})
		if err != nil {
			return err
		}
		fmt.Printf("template: %s\n\n%s\n", tmpl.Name, prompt)
		return nil
	},
}

var threadCmd = &cli.Command{
	Name:      "thread",
	Usage:     "reconstruct and print the reply chain leading to a post",
	ArgsUsage: "<at-uri>",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "appview-host",
			Usage:   "method, hostname, and port of a public API host",
			Value:   "https://public.api.bsky.app",
			EnvVars: []string{"BANTER_APPVIEW_HOST"},
		},
	},
	Action: func(cctx *cli.Context) error {
		ctx := cctx.Context
		uri := cctx.Args().First()
		if uri == "" {
			return errors.New("need a post AT-URI as an argument")
		}
		limits, err := limitsFromFlags(cctx)
		if err != nil {
			return err
		}
		client, err := platform.NewClient(cctx.String("appview-host"), 0)
		if err != nil {
			return err
		}
		leaf, err := client.FetchMessage(ctx, uri)
		if err != nil {
			return err
		}
		if leaf == nil {
			return fmt.Errorf("post not found: %s", uri)
		}
		r := thread.Reconstructor{
			Fetcher:  client,
			MaxDepth: limits.MaxThreadDepth,
			Logger:   slog.Default(),
		}
		chain := r.Reconstruct(ctx, *leaf)

		tree := treeprint.NewWithRoot(chain[0].ConversationID)
		branch := tree
		for _, m := range chain {
			branch = branch.AddBranch(fmt.Sprintf("@%s: %s", m.AuthorHandle, m.Text))
		}
		fmt.Print(tree.String())
		return nil
	},
}
