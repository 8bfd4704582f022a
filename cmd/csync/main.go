package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/chmdznr/corpussync/pkg/version"
)

func main() {
	cli.VersionFlag = &cli.BoolFlag{
		Name:    "version",
		Aliases: []string{"v"},
		Usage:   "print the version",
	}

	app := &cli.App{
		Name:                 "csync",
		Usage:                "Newsletter corpus analytics and sync to an AI file store",
		Version:              version.Version,
		EnableBashCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file (default ~/.config/csync/config.yaml)",
				EnvVars: []string{"CSYNC_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "project",
				Aliases: []string{"p"},
				Usage:   "Project name, selects the local database",
			},
			&cli.StringFlag{
				Name:  "data-dir",
				Usage: "Directory holding project databases",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Enable debug logging",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "version",
				Usage: "Print detailed version information",
				Action: func(c *cli.Context) error {
					fmt.Printf("Version:    %s\n", version.Version)
					fmt.Printf("Git commit: %s\n", version.GitCommit)
					fmt.Printf("Built:      %s\n", version.BuildTime)
					return nil
				},
			},
			{
				Name:      "ingest",
				Usage:     "Ingest a newsletter export archive",
				ArgsUsage: "<export.zip>",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "sync",
						Usage: "Sync with the remote registry after ingesting",
					},
				},
				Action: ingestArchive,
			},
			{
				Name:  "files",
				Usage: "Manage local files",
				Subcommands: []*cli.Command{
					{
						Name:      "add",
						Usage:     "Register files from disk",
						ArgsUsage: "<path>...",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "prefix",
								Usage: "Name prefix for the registered files",
							},
						},
						Action: addFiles,
					},
					{
						Name:      "rm",
						Usage:     "Remove local files by name",
						ArgsUsage: "<name>...",
						Action:    removeFiles,
					},
					{
						Name:   "ls",
						Usage:  "List local files and their remote state",
						Action: listFiles,
					},
				},
			},
			{
				Name:  "context",
				Usage: "Manage brand, author and instruction documents",
				Subcommands: []*cli.Command{
					{
						Name:      "add",
						Usage:     "Add or replace a context document from a file",
						ArgsUsage: "<path>",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "kind",
								Usage: "brand, author or instructions (inferred from the file name by default)",
							},
							&cli.StringFlag{
								Name:  "name",
								Usage: "Document name (defaults to the file name)",
							},
						},
						Action: addContext,
					},
					{
						Name:  "ls",
						Usage: "List context documents",
						Flags: []cli.Flag{
							&cli.StringSliceFlag{
								Name:  "kind",
								Usage: "Only list these kinds",
							},
						},
						Action: listContext,
					},
					{
						Name:      "rm",
						Usage:     "Remove a context document",
						ArgsUsage: "<name>",
						Action:    removeContext,
					},
				},
			},
			{
				Name:  "sync",
				Usage: "Reconcile the remote registry with the local files",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "workers",
						Usage: "Number of concurrent uploads (overrides sync.upload_concurrency)",
					},
					&cli.BoolFlag{
						Name:  "dry-run",
						Usage: "Print the plan without changing the remote",
					},
				},
				Action: startSync,
			},
			{
				Name:   "status",
				Usage:  "Show project status",
				Action: showStatus,
			},
			{
				Name:  "stats",
				Usage: "Show newsletter analytics",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "top",
						Usage: "Number of posts to rank",
						Value: 10,
					},
				},
				Action: showStats,
			},
			{
				Name:  "report",
				Usage: "Export analytics to an Excel workbook",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "out",
						Aliases: []string{"o"},
						Usage:   "Output path",
						Value:   "report.xlsx",
					},
				},
				Action: writeReport,
			},
			{
				Name:  "backup",
				Usage: "Export the project to a backup archive",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "out",
						Aliases: []string{"o"},
						Usage:   "Output path (defaults to <project>-<date>.zip)",
					},
				},
				Action: exportBackup,
			},
			{
				Name:      "restore",
				Usage:     "Replace the project with the contents of a backup archive",
				ArgsUsage: "<backup.zip>",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:    "yes",
						Aliases: []string{"y"},
						Usage:   "Do not ask for confirmation",
					},
				},
				Action: importBackup,
			},
			{
				Name:      "social",
				Usage:     "Draft social media posts from a newsletter post",
				ArgsUsage: "<post-id>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "platform",
						Usage: "Target platform",
						Value: "x",
					},
					&cli.IntFlag{
						Name:  "count",
						Usage: "Number of drafts",
						Value: 3,
					},
					&cli.StringFlag{
						Name:  "save",
						Usage: "Save the drafts as a generated document with this name",
					},
				},
				Action: socialPosts,
			},
			{
				Name:      "quotes",
				Usage:     "Find quotable lines about a topic across the corpus",
				ArgsUsage: "<topic>",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of quotes",
						Value: 10,
					},
				},
				Action: findQuotes,
			},
			{
				Name:   "chat",
				Usage:  "Chat about the corpus",
				Action: chat,
			},
			{
				Name:  "watch",
				Usage: "Mirror a directory of context documents and keep the remote in sync",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "dir",
						Usage: "Directory to watch (overrides watch.dir)",
					},
					&cli.DurationFlag{
						Name:  "interval",
						Usage: "Periodic sync interval, 0 to disable (overrides watch.interval)",
					},
				},
				Action: watchDir,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
