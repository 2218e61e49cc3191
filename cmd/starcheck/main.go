package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

var version = "dev"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "starcheck:", err)
		os.Exit(exitCode(err))
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "starcheck",
		Usage:   "classify repository star events as real or fake",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to a YAML config file",
				EnvVars: []string{"STARCHECK_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "override logger.level",
			},
		},
		Commands: []*cli.Command{
			analyzeCommand(),
			fetchCommand(),
			runsCommand(),
		},
	}
}

func analyzeCommand() *cli.Command {
	return &cli.Command{
		Name:      "analyze",
		Usage:     "classify a JSONL file of enriched star records",
		ArgsUsage: " ",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "input", Aliases: []string{"i"}, Usage: "JSONL records, - for stdin", Value: "-"},
			&cli.StringFlag{Name: "repository", Aliases: []string{"r"}, Usage: "owner/name the records belong to"},
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "report JSON destination, - for stdout", Value: "-"},
			&cli.StringFlag{Name: "classified", Usage: "also write classified events as JSONL to this path"},
			&cli.BoolFlag{Name: "pretty", Usage: "indent the report"},
			&cli.StringSliceFlag{Name: "period", Usage: "named period as name:YYYY-MM-DD:YYYY-MM-DD (end exclusive), repeatable"},
			&cli.StringFlag{Name: "phases", Usage: "pre-spike/spike/post-spike bounds as four YYYY-MM-DD dates joined by :"},
			&cli.StringFlag{Name: "baseline", Usage: "baseline days as YYYY-MM-DD:YYYY-MM-DD"},
			&cli.BoolFlag{Name: "saved-baseline", Usage: "score against the repository's last saved baseline"},
			&cli.StringFlag{Name: "target", Usage: "days to score against the baseline"},
			&cli.StringFlag{Name: "correlate", Usage: "focus window for the real/fake correlation"},
			&cli.BoolFlag{Name: "no-store", Usage: "do not record the run in the database"},
		},
		Action: runAnalyze,
	}
}

func fetchCommand() *cli.Command {
	return &cli.Command{
		Name:      "fetch",
		Usage:     "collect enriched stargazer records from GitHub",
		ArgsUsage: "owner/name",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "JSONL destination, - for stdout", Value: "-"},
			&cli.StringFlag{Name: "token", Usage: "GitHub token", EnvVars: []string{"GITHUB_TOKEN"}},
			&cli.IntFlag{Name: "max-stargazers", Usage: "stop after this many stargazers (0 for all)"},
			&cli.BoolFlag{Name: "activity", Usage: "fetch contribution and recent-event counts"},
			&cli.IntFlag{Name: "concurrency", Usage: "parallel profile requests"},
		},
		Action: runFetch,
	}
}

func runsCommand() *cli.Command {
	return &cli.Command{
		Name:  "runs",
		Usage: "inspect stored analysis runs",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "list recent runs",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "repository", Aliases: []string{"r"}},
					&cli.IntFlag{Name: "limit", Value: 20},
				},
				Action: runList,
			},
			{
				Name:      "show",
				Usage:     "print a stored run with its rollups",
				ArgsUsage: "run-id",
				Action:    runShow,
			},
			{
				Name:      "delete",
				Usage:     "delete every run and the saved baseline of one repository",
				ArgsUsage: "owner/name",
				Action:    runDelete,
			},
			{
				Name:  "prune",
				Usage: "delete runs older than the retention window",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "days", Usage: "override storage.retention_days"},
				},
				Action: runPrune,
			},
		},
	}
}
