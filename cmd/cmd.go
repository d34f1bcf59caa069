// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to configuration file",
		Value:   "config.toml",
	}
}

func serverFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "server",
		Aliases: []string{"s"},
		Usage:   "Base URL of the soundalike server (defaults to server.host/port from config)",
		Sources: cli.EnvVars("SOUNDALIKE_SERVER"),
	}
}

func userFlag() cli.Flag {
	return &cli.IntFlag{
		Name:     "user",
		Aliases:  []string{"u"},
		Usage:    "Soundalike user ID (see 'soundalike user list')",
		Required: true,
	}
}

func formatFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: text, csv, markdown or json",
		Value:   "text",
	}
}

func plainFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:  "plain",
		Usage: "Print progress lines instead of the interactive watcher",
	}
}

// setupCommand handles setup operations for the config file and database.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Setup and configuration commands",
		Commands: []*cli.Command{
			{
				Name:   "config",
				Usage:  "Write a config.toml populated with defaults",
				Flags:  []cli.Flag{configFlag()},
				Action: r.SetupConfig,
			},
			{
				Name:   "database",
				Usage:  "Initialize database and run migrations",
				Flags:  []cli.Flag{configFlag()},
				Action: r.SetupDatabase,
			},
			{
				Name:    "migrations",
				Aliases: []string{"status"},
				Usage:   "Show applied and pending migrations",
				Flags:   []cli.Flag{configFlag()},
				Action:  r.SetupMigrations,
			},
		},
	}
}

// userCommand handles user accounts and logins.
func userCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "user",
		Aliases: []string{"users"},
		Usage:   "Manage users",
		Commands: []*cli.Command{
			{
				Name:   "login",
				Usage:  "Log in with Spotify using OAuth2 and store the user",
				Flags:  []cli.Flag{configFlag()},
				Action: r.UserLogin,
			},
			{
				Name:  "list",
				Usage: "List stored users",
				Flags: []cli.Flag{
					configFlag(),
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output raw JSON",
					},
				},
				Action: r.UserList,
			},
		},
	}
}

// serveCommand starts the job workers and the HTTP API.
func serveCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the job workers and HTTP API",
		Flags: []cli.Flag{
			configFlag(),
			&cli.IntFlag{
				Name:  "workers",
				Usage: "Number of job workers (overrides workers.count)",
			},
		},
		Action: r.Serve,
	}
}

// libraryCommand handles library ingestion.
func libraryCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "library",
		Usage: "Saved-track library operations",
		Commands: []*cli.Command{
			{
				Name:  "sync",
				Usage: "Fetch, encode and link a user's saved tracks",
				Flags: []cli.Flag{
					serverFlag(),
					userFlag(),
					plainFlag(),
					&cli.BoolFlag{
						Name:  "detach",
						Usage: "Print the job ID and exit without watching",
					},
				},
				Action: r.LibrarySync,
			},
		},
	}
}

// playlistCommand handles playlist generation.
func playlistCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "playlist",
		Usage: "Playlist operations",
		Commands: []*cli.Command{
			{
				Name:  "generate",
				Usage: "Create a private playlist of tracks that sound like a seed track",
				Flags: []cli.Flag{
					serverFlag(),
					userFlag(),
					plainFlag(),
					&cli.IntFlag{
						Name:     "seed",
						Usage:    "Seed track ID",
						Required: true,
					},
					&cli.BoolFlag{
						Name:  "detach",
						Usage: "Print the job ID and exit without watching",
					},
				},
				Action: r.PlaylistGenerate,
			},
		},
	}
}

// jobsCommand handles job inspection.
func jobsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "jobs",
		Aliases: []string{"job"},
		Usage:   "Inspect background jobs",
		Commands: []*cli.Command{
			{
				Name:  "status",
				Usage: "Show the current status of a job",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "id"},
				},
				Flags: []cli.Flag{
					serverFlag(),
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output raw JSON",
					},
				},
				Action: r.JobStatus,
			},
			{
				Name:  "watch",
				Usage: "Follow a job until it finishes",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "id"},
				},
				Flags:  []cli.Flag{serverFlag(), plainFlag()},
				Action: r.JobWatch,
			},
			{
				Name:  "list",
				Usage: "List recent jobs from the local database",
				Flags: []cli.Flag{
					configFlag(),
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of jobs to show",
						Value: 20,
					},
				},
				Action: r.JobList,
			},
		},
	}
}

// tracksCommand handles encoded track queries.
func tracksCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "tracks",
		Usage: "Query encoded tracks",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List a user's encoded tracks",
				Flags: []cli.Flag{
					serverFlag(),
					userFlag(),
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output raw JSON",
					},
				},
				Action: r.TracksList,
			},
			{
				Name:  "similar",
				Usage: "Find tracks in a user's library that sound like a track",
				Flags: []cli.Flag{
					serverFlag(),
					userFlag(),
					formatFlag(),
					&cli.IntFlag{
						Name:     "track",
						Aliases:  []string{"t"},
						Usage:    "Seed track ID",
						Required: true,
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Number of neighbours (1-100)",
						Value: 3,
					},
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Write the report to a file",
					},
				},
				Action: r.TracksSimilar,
			},
		},
	}
}

// browseCommand returns the top-level TUI command for interactive browsing.
func browseCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "browse",
		Aliases: []string{"tui", "ui"},
		Usage:   "Browse encoded tracks and build playlists interactively",
		Flags: []cli.Flag{
			serverFlag(),
			userFlag(),
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Number of neighbours to show",
				Value: 10,
			},
		},
		Action: r.Browse,
	}
}
