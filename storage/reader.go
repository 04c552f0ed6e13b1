package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/ulikunitz/xz"
	"golang.org/x/sync/errgroup"

	"github.com/miku/ccforms/analyze"
)

// Corpus is the read side of a forms.d directory (C8): load, list, and
// fold already-written summaries. Unlike Writer it takes no lock on the
// directory and is safe to use concurrently with an active Writer, since
// the index only ever grows and summary files are only ever created once
// (atomically) and never modified.
type Corpus struct {
	Root string
}

// NewCorpus returns a reader over the forms.d directory at root.
func NewCorpus(root string) *Corpus {
	return &Corpus{Root: root}
}

// Load reads and decodes the summary stored for warcURL.
func (c *Corpus) Load(warcURL string) (analyze.ArchiveSummary, error) {
	path := filepath.Join(c.Root, EncodeURL(warcURL)+".json.xz")
	f, err := os.Open(path)
	if err != nil {
		return analyze.Zero(), fmt.Errorf("storage: load %s: %w", warcURL, err)
	}
	defer f.Close()
	xr, err := xz.NewReader(f)
	if err != nil {
		return analyze.Zero(), fmt.Errorf("storage: load %s: %w", warcURL, err)
	}
	var summary analyze.ArchiveSummary
	if err := json.NewDecoder(xr).Decode(&summary); err != nil {
		return analyze.Zero(), fmt.Errorf("storage: load %s: %w", warcURL, err)
	}
	return summary, nil
}

// List returns every WARC URL recorded in the index, in file order.
func (c *Corpus) List() ([]string, error) {
	f, err := os.Open(filepath.Join(c.Root, indexFilename))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: list: %w", err)
	}
	defer f.Close()
	var urls []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := sc.Text(); line != "" {
			urls = append(urls, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("storage: list: %w", err)
	}
	return urls, nil
}

// FoldAll loads every indexed URL in parallel and folds the results into a
// single ArchiveSummary via the monoid in package analyze. A URL whose
// summary file is missing (e.g. removed out-of-band) is skipped rather
// than failing the whole fold.
func (c *Corpus) FoldAll(ctx context.Context, workers int) (analyze.ArchiveSummary, error) {
	urls, err := c.List()
	if err != nil {
		return analyze.Zero(), err
	}
	if workers <= 0 {
		workers = 8
	}

	var mu sync.Mutex
	out := analyze.Zero()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, u := range urls {
		u := u
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			summary, err := c.Load(u)
			if errors.Is(err, os.ErrNotExist) || errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return err
			}
			mu.Lock()
			out = analyze.Merge(out, summary)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return analyze.Zero(), fmt.Errorf("storage: fold_all: %w", err)
	}
	return out, nil
}
