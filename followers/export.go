package followers

import (
	"encoding/csv"
	"io"
)

// Column header of the Mastodon "follows" import format.
var importHeader = []string{"Account address", "Show boosts", "Notify on new posts", "Languages"}

// WriteImportCSV writes a Mastodon follow-import CSV with one row per
// ReadyToFollow result: boosts shown, notifications off, no language filter.
// Other statuses produce no rows.
func WriteImportCSV(w io.Writer, results []Result) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(importHeader); err != nil {
		return err
	}
	for _, r := range results {
		if r.Status.Kind != ReadyToFollow {
			continue
		}
		if err := cw.Write([]string{"@" + r.Address, "true", "false", ""}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
