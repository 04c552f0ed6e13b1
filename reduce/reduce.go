// Package reduce fans the records of one WARC out to a worker pool and
// folds their per-record analysis into a single ArchiveSummary, using
// sourcegraph/conc's pool abstraction: one goroutine body per queued item,
// combined through a monoid rather than a shared, mutex-guarded
// accumulator.
package reduce

import (
	"fmt"
	"io"
	"runtime"

	"github.com/sourcegraph/conc/pool"

	"github.com/miku/ccforms/analyze"
	"github.com/miku/ccforms/warcstream"
)

// WARC reads every response record from r, analyzes records concurrently
// across workers goroutines (runtime.NumCPU() if workers <= 0), and folds
// the partial results into one ArchiveSummary. The reduce order is
// unspecified, matching the monoid's associativity and commutativity.
//
// A single worker's error aborts the whole WARC; the caller is expected to
// move on to the next WARC, per the per-WARC failure isolation in the
// pipeline's contract.
func WARC(r io.Reader, workers int) (analyze.ArchiveSummary, error) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	reader, err := warcstream.NewReader(r)
	if err != nil {
		return analyze.Zero(), fmt.Errorf("reduce: %w", err)
	}

	p := pool.NewWithResults[*analyze.ArchiveSummary]().WithMaxGoroutines(workers).WithErrors()
	for {
		rec, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return analyze.Zero(), fmt.Errorf("reduce: %w", err)
		}
		rec := rec
		p.Go(func() (*analyze.ArchiveSummary, error) {
			return analyze.AnalyzeRecord(rec)
		})
	}

	partials, err := p.Wait()
	if err != nil {
		return analyze.Zero(), fmt.Errorf("reduce: worker failed: %w", err)
	}

	out := analyze.Zero()
	for _, part := range partials {
		if part == nil {
			continue
		}
		out = analyze.Merge(out, *part)
	}
	return out, nil
}
