// Package validate compares what conversion produced against what the
// remote store ended up holding, so external tooling can flag documents
// that need re-migration.
package validate

import (
	"fmt"

	"github.com/hward/sn2n/internal/blocktree"
)

// Counts holds per-category block totals.
type Counts struct {
	Tables   int `json:"tables"`
	Images   int `json:"images"`
	Lists    int `json:"lists"`
	Callouts int `json:"callouts"`
}

// Report is the completeness comparison for one migrated document.
type Report struct {
	Source            Counts   `json:"source"`
	Notion            Counts   `json:"notion"`
	DuplicatesRemoved int      `json:"duplicatesRemoved"`
	Errors            []string `json:"errors,omitempty"`
	HasErrors         bool     `json:"hasErrors"`
}

// CountSource tallies the logical tree, including content later
// deferred and re-attached elsewhere.
func CountSource(root *blocktree.Node) Counts {
	var c Counts
	blocktree.Walk(root, func(n *blocktree.Node) bool {
		tally(&c, n.Kind)
		return true
	})
	return c
}

// CountRemote tallies the final remote tree.
func CountRemote(root *blocktree.RemoteNode) Counts {
	var c Counts
	blocktree.WalkRemote(root, func(n *blocktree.RemoteNode) {
		tally(&c, n.Kind)
	})
	return c
}

func tally(c *Counts, kind blocktree.Kind) {
	switch kind {
	case blocktree.KindTable:
		c.Tables++
	case blocktree.KindImage:
		c.Images++
	case blocktree.KindBulletedItem, blocktree.KindNumberedItem:
		c.Lists++
	case blocktree.KindCallout:
		c.Callouts++
	}
}

// Compare builds the report. A remote count may fall short of the
// source by up to duplicatesRemoved in total; anything beyond that is
// lost content.
func Compare(source Counts, remote Counts, duplicatesRemoved int) Report {
	report := Report{
		Source:            source,
		Notion:            remote,
		DuplicatesRemoved: duplicatesRemoved,
	}

	check := func(name string, src, got int) {
		if got > src {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: notion has %d, source has %d (unexpected extras)", name, got, src))
			return
		}
		missing := src - got
		if missing > duplicatesRemoved {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: source has %d, notion has %d (%d unaccounted for)", name, src, got, missing-duplicatesRemoved))
		}
	}
	check("tables", source.Tables, remote.Tables)
	check("images", source.Images, remote.Images)
	check("lists", source.Lists, remote.Lists)
	check("callouts", source.Callouts, remote.Callouts)

	report.HasErrors = len(report.Errors) > 0
	return report
}
