package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hward/sn2n/internal/blocktree"
	"github.com/hward/sn2n/internal/convert"
	"github.com/hward/sn2n/internal/notion"
	"github.com/hward/sn2n/internal/placer"
	"github.com/hward/sn2n/internal/validate"
)

// PageStore is the remote store surface the worker needs: everything
// the placement layer uses plus page creation.
type PageStore interface {
	placer.Store
	CreatePage(ctx context.Context, databaseID string, properties map[string]any, children []*blocktree.Node) (*notion.Page, error)
}

// Worker migrates a single page end to end.
type Worker struct {
	store          PageStore
	chunker        *placer.Chunker
	orchestrator   *placer.Orchestrator
	deduper        *placer.Deduper
	log            *slog.Logger
	nestingCeiling int
	maxChildren    int
}

func NewWorker(store PageStore, chunker *placer.Chunker, orch *placer.Orchestrator, deduper *placer.Deduper, log *slog.Logger, nestingCeiling, maxChildren int) *Worker {
	if maxChildren <= 0 {
		maxChildren = 100
	}
	return &Worker{
		store:          store,
		chunker:        chunker,
		orchestrator:   orch,
		deduper:        deduper,
		log:            log,
		nestingCeiling: nestingCeiling,
		maxChildren:    maxChildren,
	}
}

// Process runs the full migration for a job: convert, collect, create,
// place, sweep, dedupe, validate. Partial outcomes (orphans, exhausted
// batches) complete the run with diagnostics rather than failing it.
func (w *Worker) Process(ctx context.Context, job *Job) {
	log := w.log.With("job_id", job.ID, "title", job.Title)

	// Phase 1: Convert source content into the logical tree.
	job.SetStatus(StatusConverting, "converting")
	root, err := w.convertContent(job)
	if err != nil {
		log.Error("conversion failed", "phase", "collection", "error", err)
		job.AddError(fmt.Sprintf("convert: %s", err))
		job.SetStatus(StatusFailed, "converting")
		return
	}
	sourceCounts := validate.CountSource(root)
	job.UpdateProgress(func(p *Progress) {
		p.TotalBlocks = blocktree.CountNodes(root.Children)
	})

	// Phase 2: Collect deferred subtrees behind markers.
	deferred := convert.MarkDeferrals(root, w.nestingCeiling)
	stripped, markers := placer.CollectAndStrip(root)
	job.UpdateProgress(func(p *Progress) {
		p.Markers = len(markers)
	})
	log.Info("collection complete",
		"phase", "collection",
		"deferred_nodes", deferred,
		"markers", len(markers),
	)

	// Phase 3: Create the page with the first store-legal batch, then
	// append the remaining top-level siblings through the chunker.
	job.SetStatus(StatusCreating, "creating")
	initial := stripped.Children
	var overflow []*blocktree.Node
	if len(initial) > w.maxChildren {
		overflow = initial[w.maxChildren:]
		initial = initial[:w.maxChildren]
	}

	page, err := w.store.CreatePage(ctx, job.DatabaseID, notion.PageProperties(job.Title, job.PropertiesSnapshot()), initial)
	if err != nil {
		log.Error("page creation failed", "error", err)
		job.AddError(fmt.Sprintf("create: %s", err))
		job.SetStatus(StatusFailed, "creating")
		return
	}
	job.SetPage(page.ID, page.URL)
	log = log.With("page_id", page.ID)

	if len(overflow) > 0 {
		appended, err := w.chunker.Append(ctx, page.ID, overflow)
		job.UpdateProgress(func(p *Progress) {
			p.BlocksAppended += appended
		})
		if err != nil {
			log.Error("top-level overflow append failed", "appended", appended, "error", err)
			job.AddError(fmt.Sprintf("overflow append: %s", err))
		}
	}

	// Phase 4: Place deferred subtrees and sweep the tokens out.
	job.SetStatus(StatusPlacing, "placing")
	results, err := w.orchestrator.PlaceDeepContent(ctx, page.ID, markers)
	for _, r := range results {
		job.UpdateProgress(func(p *Progress) {
			p.BlocksAppended += r.Appended
			if r.Orphaned {
				p.Orphaned++
			} else if r.Err == nil && (r.State == placer.StatePlaced || r.State == placer.StateSwept) {
				p.Placed++
			}
			if r.State == placer.StateSwept {
				p.TokensSwept++
			}
		})
		if r.Err != nil {
			job.AddError(fmt.Sprintf("marker %s: %s", r.Marker, r.Err))
		}
	}
	if err != nil {
		// Only an unreachable root gets here; the whole document needs
		// an external retry.
		log.Error("placement unrecoverable", "error", err)
		job.AddError(fmt.Sprintf("placement: %s", err))
		job.SetStatus(StatusFailed, "placing")
		return
	}

	// Phase 5: Remove extraction duplicates.
	job.SetStatus(StatusDeduping, "deduping")
	removed := 0
	remote, err := w.orchestrator.FetchTree(ctx, page.ID)
	if err != nil {
		log.Error("remote fetch for dedup failed", "phase", "dedup", "error", err)
		job.AddError(fmt.Sprintf("dedup fetch: %s", err))
	} else {
		removed, err = w.deduper.Dedupe(ctx, remote)
		if err != nil {
			log.Error("dedup aborted", "phase", "dedup", "removed", removed, "error", err)
			job.AddError(fmt.Sprintf("dedup: %s", err))
		}
		job.UpdateProgress(func(p *Progress) {
			p.DuplicatesRemoved = removed
		})
	}

	// Phase 6: Compare source and remote counts.
	job.SetStatus(StatusValidating, "validating")
	remote, err = w.orchestrator.FetchTree(ctx, page.ID)
	if err != nil {
		log.Error("remote fetch for validation failed", "error", err)
		job.AddError(fmt.Sprintf("validate fetch: %s", err))
	} else {
		report := validate.Compare(sourceCounts, validate.CountRemote(remote), removed)
		job.SetReport(&report)
		if report.HasErrors {
			log.Warn("validation found mismatches", "errors", strings.Join(report.Errors, "; "))
		}
	}

	if job.HadErrors() {
		job.SetStatus(StatusPartial, "done")
	} else {
		job.SetStatus(StatusCompleted, "done")
	}
	log.Info("migration complete",
		"status", job.Snapshot().Status,
		"markers", len(markers),
		"duplicates_removed", removed,
	)
}

// convertContent picks a converter for the job's payload.
func (w *Worker) convertContent(job *Job) (*blocktree.Node, error) {
	html, markdown := job.ContentSnapshot()
	switch {
	case html != "":
		conv := &convert.HTMLConverter{}
		return conv.Convert(strings.NewReader(html))
	case markdown != "":
		conv := &convert.MarkdownConverter{}
		return conv.Convert(strings.NewReader(markdown))
	default:
		return nil, fmt.Errorf("no content provided")
	}
}
