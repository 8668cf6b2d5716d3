// Package search rebuilds the filtered line set of a repository with a
// cancellable, batched scan that runs newest to oldest.
package search

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/imwoo90/web-serial-monitor-sub000/internal/logging"
	"github.com/imwoo90/web-serial-monitor-sub000/internal/logindex"
	"github.com/imwoo90/web-serial-monitor-sub000/internal/repository"
)

var searchLog = logging.ForComponent(logging.CompSearch)

// ErrStale is returned by a job that was superseded or cancelled. A stale
// job never mutates the index.
var ErrStale = errors.New("search superseded")

// DefaultBatchLines is the number of lines scanned per step.
const DefaultBatchLines = 5000

// Engine tracks the current search generation. It is owned by the worker
// goroutine and not safe for concurrent use.
type Engine struct {
	gen    uint64
	cancel context.CancelFunc
	batch  int
}

// NewEngine returns an engine scanning batchLines lines per step.
func NewEngine(batchLines int) *Engine {
	if batchLines <= 0 {
		batchLines = DefaultBatchLines
	}
	return &Engine{batch: batchLines}
}

// Generation returns the current generation.
func (e *Engine) Generation() uint64 { return e.gen }

// Start begins a new search and supersedes any running one. An invalid
// pattern is reported without touching the current filter or job. A blank
// query clears filtering and returns a job that is already done.
func (e *Engine) Start(ctx context.Context, repo *repository.Repository, opts logindex.FilterOptions) (*Job, error) {
	filter, err := logindex.NewFilter(opts)
	if err != nil {
		return nil, err
	}

	e.Cancel()
	idx := repo.Index()
	if filter == nil {
		idx.ClearFilter()
		searchLog.Debug("search_cleared", slog.Uint64("generation", e.gen))
		return &Job{engine: e, gen: e.gen, ctx: ctx, done: true}, nil
	}

	jobCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	idx.SetFilter(filter)

	total := idx.LineCount()
	searchLog.Debug("search_started",
		slog.Uint64("generation", e.gen),
		slog.Bool("regex", opts.Regex),
		slog.Int("lines", total))
	return &Job{
		engine:  e,
		gen:     e.gen,
		ctx:     jobCtx,
		cancel:  cancel,
		filter:  filter,
		next:    total,
		total:   total,
		started: time.Now(),
	}, nil
}

// Cancel supersedes the running job, if any.
func (e *Engine) Cancel() {
	e.gen++
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
}

// Job is one scan over the lines present when the search started. Lines
// appended later are matched on append.
type Job struct {
	engine *Engine
	gen    uint64
	ctx    context.Context
	cancel context.CancelFunc
	filter *logindex.ActiveFilter

	next    int // lines [0, next) remain to be scanned
	total   int
	matched int
	done    bool
	started time.Time
}

// Generation is the generation the job was started under.
func (j *Job) Generation() uint64 { return j.gen }

// Done reports whether the scan has finished.
func (j *Job) Done() bool { return j.done }

// Matched is the number of matches found by the scan so far.
func (j *Job) Matched() int { return j.matched }

// Remaining is the number of lines not yet scanned.
func (j *Job) Remaining() int { return j.next }

// Stale reports whether the job has been superseded or cancelled.
func (j *Job) Stale() bool {
	return j.ctx.Err() != nil || j.gen != j.engine.gen
}

// Step scans the next batch, reading it from the store with one read, and
// prepends its matches to the filtered set. It returns true once the oldest
// line has been scanned.
func (j *Job) Step(repo *repository.Repository) (bool, error) {
	if j.done {
		return true, nil
	}
	if j.Stale() || j.next > repo.LineCount() {
		return false, ErrStale
	}

	lo := max(j.next-j.engine.batch, 0)
	offs := repo.Index().Offsets(lo, j.next)
	if len(offs) > 1 {
		base := offs[0]
		buf, err := repo.ReadRange(base, offs[len(offs)-1])
		if err != nil {
			return false, err
		}
		var matches []logindex.LineRange
		for i := 0; i+1 < len(offs); i++ {
			a := min(offs[i]-base, uint64(len(buf)))
			b := min(offs[i+1]-base, uint64(len(buf)))
			line := strings.TrimSuffix(string(buf[a:b]), "\n")
			if j.filter.Matches(strings.ToValidUTF8(line, "\uFFFD")) {
				matches = append(matches, logindex.LineRange{Start: offs[i], End: offs[i+1]})
			}
		}
		repo.Index().PrependFiltered(matches)
		j.matched += len(matches)
	}
	j.next = lo

	if j.next == 0 {
		j.done = true
		j.cancel()
		searchLog.Info("search_done",
			slog.Uint64("generation", j.gen),
			slog.Int("lines", j.total),
			slog.Int("matched", j.matched),
			slog.Duration("elapsed", time.Since(j.started)))
	}
	return j.done, nil
}
