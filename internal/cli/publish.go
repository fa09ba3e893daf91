package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/klauern/confsync/internal/config"
	"github.com/klauern/confsync/internal/confluence"
	"github.com/klauern/confsync/internal/content"
	"github.com/klauern/confsync/internal/index"
	"github.com/klauern/confsync/internal/logging"
	"github.com/klauern/confsync/internal/publish"
	"github.com/klauern/confsync/internal/ui"
)

func publishCommand() *cli.Command {
	return &cli.Command{
		Name:      "publish",
		Usage:     "Publish a document or directory tree to Confluence",
		ArgsUsage: "<path>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "domain",
				Aliases: []string{"d"},
				Usage:   "Confluence organization domain (e.g. example.atlassian.net)",
			},
			&cli.StringFlag{
				Name:    "path",
				Aliases: []string{"p"},
				Usage:   "Base path of the Confluence site (default: /wiki/)",
			},
			&cli.StringFlag{
				Name:  "api-url",
				Usage: "Full Confluence API URL, overrides domain and path",
			},
			&cli.StringFlag{
				Name:    "username",
				Aliases: []string{"u"},
				Usage:   "Confluence user name; omit to authenticate with a bearer token",
			},
			&cli.StringFlag{
				Name:    "api-key",
				Aliases: []string{"a"},
				Usage:   "Confluence API key or token",
			},
			&cli.StringFlag{
				Name:    "space",
				Aliases: []string{"s"},
				Usage:   "Confluence space key for new pages",
			},
			&cli.StringFlag{
				Name:  "api-version",
				Usage: "Confluence REST API generation (v1 or v2)",
			},
			&cli.StringFlag{
				Name:    "root-page",
				Aliases: []string{"r"},
				Usage:   "Page ID the published tree is anchored under",
			},
			&cli.StringFlag{
				Name:  "title-prefix",
				Usage: "Prefix prepended to every page title",
			},
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "Report intended changes without writing anything",
			},
			&cli.BoolFlag{
				Name:  "keep-labels",
				Usage: "Keep remote labels not declared in the documents",
			},
			&cli.BoolFlag{
				Name:  "force",
				Usage: "Re-upload attachments even when sizes match",
			},
		},
		Action: runPublish,
	}
}

func runPublish(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 1 {
		return fmt.Errorf("expected exactly one path argument, got %d", cmd.Args().Len())
	}
	root := cmd.Args().First()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	matcher := index.NewMatcher(nil)
	if info, err := os.Stat(root); err == nil && info.IsDir() {
		matcher, err = index.LoadMatcher(root, cfg.Publish.IgnoreFile)
		if err != nil {
			return err
		}
	}

	tree, pageIndex, err := index.Build(root, matcher)
	if err != nil {
		return err
	}
	logging.Info("indexed documents", logging.Path(root), logging.Count(tree.Count()))

	session, err := confluence.NewSession(cfg)
	if err != nil {
		return err
	}
	defer session.Close()

	engine := publish.NewEngine(session, content.NewMarkdownConverter(), publish.Options{
		RootPageID:  cfg.Publish.RootPageID,
		TitlePrefix: cfg.Publish.TitlePrefix,
		DryRun:      cfg.Publish.DryRun,
		KeepLabels:  cfg.Publish.KeepLabels,
		Force:       cmd.Bool("force"),
	})

	if bar := ui.NewProgress(tree.Count(), "publishing"); bar != nil {
		engine.Progress = func(string) { _ = bar.Add(1) }
		defer func() { _ = bar.Finish() }()
	}

	summary, err := engine.Publish(ctx, tree, pageIndex)

	reporter := ui.NewReporter(os.Stdout, cmd.Bool("no-color") || !ui.IsTerminal())
	if summary != nil {
		reporter.Summary(summary, cfg.Publish.DryRun)
	}
	if err != nil {
		var apiErr *confluence.APIError
		if errors.As(err, &apiErr) && len(apiErr.Body) > 0 {
			logging.Error("Confluence API error", logging.Status(apiErr.StatusCode), "body", string(apiErr.Body))
		}
		return err
	}
	return nil
}

// loadConfig merges the config file, environment and command-line flags, in
// ascending precedence.
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	setFlag := func(target *string, name string) {
		if value := cmd.String(name); value != "" {
			*target = value
		}
	}
	setFlag(&cfg.Connection.Domain, "domain")
	setFlag(&cfg.Connection.BasePath, "path")
	setFlag(&cfg.Connection.APIURL, "api-url")
	setFlag(&cfg.Connection.Username, "username")
	setFlag(&cfg.Connection.APIKey, "api-key")
	setFlag(&cfg.Connection.SpaceKey, "space")
	setFlag(&cfg.Publish.RootPageID, "root-page")
	setFlag(&cfg.Publish.TitlePrefix, "title-prefix")
	if value := cmd.String("api-version"); value != "" {
		cfg.Connection.APIVersion = config.APIVersion(value)
	}
	if cmd.Bool("dry-run") {
		cfg.Publish.DryRun = true
	}
	if cmd.Bool("keep-labels") {
		cfg.Publish.KeepLabels = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
