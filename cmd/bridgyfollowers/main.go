package main

import (
	"fmt"
	"os"
	"time"

	"github.com/bridgyfollowers/bridgyfollowers/followers"
	"github.com/bridgyfollowers/bridgyfollowers/pkg/env"
	"github.com/bridgyfollowers/bridgyfollowers/pkg/metrics"

	_ "github.com/joho/godotenv/autoload"

	"github.com/urfave/cli/v2"
)

func main() {
	if err := run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(-1)
	}
}

// Flags are built per app: urfave/cli records env var values on the flag values themselves.
func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Usage:   "path to TOML config file (default: XDG config dir, then ./bridgyfollowers.toml)",
			EnvVars: []string{"BRIDGYFOLLOWERS_CONFIG"},
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "log verbosity level (eg: warn, info, debug)",
			Value:   "info",
			EnvVars: []string{"BRIDGYFOLLOWERS_LOG_LEVEL", "GO_LOG_LEVEL", "LOG_LEVEL"},
		},
		&cli.BoolFlag{
			Name:    "log-json",
			Usage:   "write logs to stderr as JSON",
			EnvVars: []string{"BRIDGYFOLLOWERS_LOG_JSON"},
		},
		&cli.StringFlag{
			Name:    "metrics-file",
			Usage:   "write prometheus metrics to this file (textfile format) when done",
			EnvVars: []string{"BRIDGYFOLLOWERS_METRICS_FILE"},
		},
		&cli.StringFlag{
			Name:    "bluesky-username",
			Usage:   "Bluesky handle or email to log in with",
			EnvVars: []string{"BLUESKY_USERNAME"},
		},
		&cli.StringFlag{
			Name:    "bluesky-password",
			Usage:   "Bluesky password (an app password is recommended)",
			EnvVars: []string{"BLUESKY_PASSWORD"},
		},
		&cli.StringFlag{
			Name:    "bluesky-host",
			Usage:   "method, hostname, and port of the Bluesky PDS or entryway",
			EnvVars: []string{"BLUESKY_HOST"},
		},
		&cli.StringFlag{
			Name:    "mastodon-server",
			Usage:   "Mastodon server domain or URL",
			EnvVars: []string{"MASTODON_SERVER"},
		},
		&cli.StringFlag{
			Name:    "mastodon-token",
			Usage:   "Mastodon access token (read:accounts, read:follows, write:follows scopes)",
			EnvVars: []string{"MASTODON_ACCESS_TOKEN"},
		},
		&cli.StringFlag{
			Name:    "bridge-handle",
			Usage:   "Bluesky handle (or DID) of the bridge account",
			EnvVars: []string{"BRIDGE_HANDLE"},
		},
		&cli.StringFlag{
			Name:    "bridge-domain",
			Usage:   "domain bridged Bluesky accounts appear under on the fediverse",
			EnvVars: []string{"BRIDGE_DOMAIN"},
		},
		&cli.StringFlag{
			Name:    "bridge-host",
			Usage:   "server answering WebFinger queries for bridged accounts",
			EnvVars: []string{"BRIDGE_HOST"},
		},
		&cli.StringSliceFlag{
			Name:    "ignore",
			Usage:   "Bluesky handle to skip (exact match, repeatable; added to ignored_accounts)",
			EnvVars: []string{"BRIDGYFOLLOWERS_IGNORE"},
		},
		&cli.IntFlag{
			Name:    "concurrency",
			Usage:   "maximum concurrent WebFinger checks",
			Value:   followers.DefaultConcurrency,
			EnvVars: []string{"BRIDGYFOLLOWERS_CONCURRENCY"},
		},
		&cli.Float64Flag{
			Name:    "rate-limit",
			Usage:   "maximum WebFinger checks (and follows) per second; 0 for unlimited",
			EnvVars: []string{"BRIDGYFOLLOWERS_RATE_LIMIT"},
		},
		&cli.DurationFlag{
			Name:    "timeout",
			Usage:   "timeout for each remote request",
			Value:   30 * time.Second,
			EnvVars: []string{"BRIDGYFOLLOWERS_TIMEOUT"},
		},
		&cli.IntFlag{
			Name:    "http-retries",
			Usage:   "retries for failed remote requests (connection errors and 5xx)",
			Value:   0,
			EnvVars: []string{"BRIDGYFOLLOWERS_HTTP_RETRIES"},
		},
	}
}

func run(args []string) error {
	return newApp().Run(args)
}

func newApp() *cli.App {
	app := &cli.App{
		Name:    "bridgyfollowers",
		Usage:   "follow your Bluesky friends from Mastodon, through Bridgy Fed",
		Version: env.ShortVersion(),
		Flags:   globalFlags(),
		Before: func(cctx *cli.Context) error {
			configLogger(cctx, cctx.App.ErrWriter)
			return nil
		},
		After: func(cctx *cli.Context) error {
			return metrics.WriteTextfile(cctx.String("metrics-file"))
		},
	}
	app.Commands = []*cli.Command{
		cmdCSV,
		cmdSync,
		cmdStatuses,
	}
	return app
}
