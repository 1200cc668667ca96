package main

import (
	"encoding/json"
	"fmt"

	"github.com/bridgyfollowers/bridgyfollowers/followers"

	"github.com/urfave/cli/v2"
)

var cmdCSV = &cli.Command{
	Name:  "csv",
	Usage: "write a Mastodon follow-import CSV of bridged accounts ready to follow",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "file path to write to, or '-' for stdout",
			Value:   stdIOPath,
		},
	},
	Action: runCSV,
}

func runCSV(cctx *cli.Context) error {
	results, _, err := classifyFollowers(cctx)
	if err != nil {
		return err
	}
	out, err := getFileOrStdout(cctx, cctx.String("output"))
	if err != nil {
		return err
	}
	defer out.Close()
	if err := followers.WriteImportCSV(out, results); err != nil {
		return err
	}
	return out.Close()
}

var cmdSync = &cli.Command{
	Name:  "sync",
	Usage: "follow every bridged account that is ready to follow",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "dry-run",
			Usage: "only print the accounts which would be followed",
		},
	},
	Action: runSync,
}

func runSync(cctx *cli.Context) error {
	results, mc, err := classifyFollowers(cctx)
	if err != nil {
		return err
	}
	w := cctx.App.Writer

	ready := followers.Filter(results, followers.ReadyToFollow)
	if len(ready) == 0 {
		fmt.Fprintln(w, "no new accounts to follow")
		return nil
	}
	if cctx.Bool("dry-run") {
		for _, r := range ready {
			fmt.Fprintf(w, "would follow @%s\n", r.Address)
		}
		return nil
	}

	sum, err := followReady(cctx.Context, mc, limiter(cctx), results)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "followed %d accounts, %d failed\n", sum.Followed, sum.Failed)
	if sum.Failed > 0 {
		return fmt.Errorf("%d follows failed", sum.Failed)
	}
	return nil
}

var cmdStatuses = &cli.Command{
	Name:  "statuses",
	Usage: "print the classification of every known follower of the bridge",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "json",
			Usage: "output JSON lines",
		},
	},
	Action: runStatuses,
}

type statusLine struct {
	DID     string           `json:"did"`
	Handle  string           `json:"handle"`
	Address string           `json:"address"`
	Status  followers.Status `json:"status"`
}

func runStatuses(cctx *cli.Context) error {
	results, _, err := classifyFollowers(cctx)
	if err != nil {
		return err
	}
	w := cctx.App.Writer

	if cctx.Bool("json") {
		enc := json.NewEncoder(w)
		for _, r := range results {
			if err := enc.Encode(statusLine{
				DID:     r.Candidate.DID.String(),
				Handle:  r.Candidate.Handle.String(),
				Address: r.Address,
				Status:  r.Status,
			}); err != nil {
				return err
			}
		}
		return nil
	}
	for _, r := range results {
		fmt.Fprintf(w, "%s\t%s\t%s\n", r.Candidate.Handle, r.Address, r.Status)
	}
	return nil
}
