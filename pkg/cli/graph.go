package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fractionalquest/copilot/pkg/dispatch"
	"github.com/fractionalquest/copilot/pkg/graph"
	"github.com/fractionalquest/copilot/pkg/model"
	"github.com/fractionalquest/copilot/pkg/repository"
	"github.com/fractionalquest/copilot/pkg/usecase/history"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func graphCommand() *cli.Command {
	cfg := newConfig()
	var (
		userID string
		format string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "user-id",
			Aliases:     []string{"u"},
			Usage:       "User whose interest graph is shown",
			Required:    true,
			Destination: &userID,
		},
		&cli.StringFlag{
			Name:        "format",
			Aliases:     []string{"f"},
			Usage:       "Output format (text, json, html)",
			Value:       "text",
			Destination: &format,
		},
	}
	flags = append(flags, globalFlags(cfg)...)
	flags = append(flags, memoryFlags(cfg)...)

	return &cli.Command{
		Name:  "graph",
		Usage: "Show what the assistant remembers about a user",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			memory, closeMemory, err := cfg.newMemoryStore(ctx)
			if err != nil {
				return err
			}
			defer closeMemory()

			g := graph.NewLoader(memory, graph.WithTimeout(cfg.graphTimeout)).Load(ctx, userID)
			w := c.Root().Writer

			switch format {
			case "json":
				raw, err := json.MarshalIndent(g, "", "  ")
				if err != nil {
					return goerr.Wrap(err, "failed to encode graph")
				}
				fmt.Fprintln(w, string(raw))

			case "html":
				fmt.Fprintln(w, dispatch.GraphSection(g).Render())

			case "text":
				if g.IsEmpty() {
					fmt.Fprintln(w, "Nothing remembered yet.")
					return nil
				}
				for _, category := range []model.NodeCategory{
					model.NodeCategoryRole,
					model.NodeCategoryLocation,
					model.NodeCategoryInterest,
					model.NodeCategoryExperience,
				} {
					nodes := g.NodesByCategory(category)
					if len(nodes) == 0 {
						continue
					}
					fmt.Fprintf(w, "%s:\n", category)
					for _, n := range nodes {
						fmt.Fprintf(w, "  - %s\n", n.Label)
					}
				}

			default:
				return goerr.New("unknown format", goerr.V("format", format))
			}
			return nil
		},
	}
}

func historyCommand() *cli.Command {
	cfg := newConfig()
	var (
		userID string
		limit  int64
		source string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "user-id",
			Aliases:     []string{"u"},
			Usage:       "User whose remembered turns are listed",
			Required:    true,
			Destination: &userID,
		},
		&cli.IntFlag{
			Name:        "limit",
			Aliases:     []string{"n"},
			Usage:       "Number of turns to list",
			Value:       history.DefaultLimit,
			Destination: &limit,
		},
		&cli.StringFlag{
			Name:        "source",
			Usage:       "Only list turns written by this source (chat, confirmation)",
			Destination: &source,
		},
	}
	flags = append(flags, globalFlags(cfg)...)
	flags = append(flags, memoryFlags(cfg)...)

	return &cli.Command{
		Name:  "history",
		Usage: "List the conversation turns remembered for a user",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			memory, closeMemory, err := cfg.newMemoryStore(ctx)
			if err != nil {
				return err
			}
			defer closeMemory()

			repo, ok := memory.(repository.Repository)
			if !ok {
				return goerr.New("memory store does not support listing turns; use --project")
			}

			turns, err := history.List(ctx, repo, userID, int(limit), history.Filter{Source: source})
			if err != nil {
				return err
			}
			w := c.Root().Writer
			for _, t := range turns {
				fmt.Fprintf(w, "%s  %-9s %s\n", t.CreatedAt.Format("2006-01-02 15:04"), t.Role, t.Content)
			}
			return nil
		},
	}
}

func pagesCommand() *cli.Command {
	cfg := newConfig()

	return &cli.Command{
		Name:  "pages",
		Usage: "List the pages the assistant can be mounted on",
		Flags: globalFlags(cfg),
		Action: func(ctx context.Context, c *cli.Command) error {
			cat, err := cfg.newCatalog()
			if err != nil {
				return err
			}
			w := c.Root().Writer
			for _, p := range cat.Pages {
				fmt.Fprintf(w, "%-32s %s\n", p.Slug, p.Title)
				for _, kind := range p.Tools {
					fmt.Fprintf(w, "    %s\n", kind)
				}
			}
			return nil
		},
	}
}
