// Package storage implements the single-writer durable corpus (C6) and the
// parallel corpus reader/reducer (C8) described by the forms.d/ storage
// contract.
package storage

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/ulikunitz/xz"

	"github.com/miku/ccforms/analyze"
	"github.com/miku/ccforms/fileutils"
)

// ErrStorage marks a filesystem or serialization failure. It is fatal to
// the writer: once returned, the corpus may be missing an entry its caller
// believes was written, so the process must fail loudly rather than
// continue silently.
var ErrStorage = errors.New("storage: write failed")

// ErrQueueClosed is returned by Enqueue once the writer has been told to
// shut down.
var ErrQueueClosed = errors.New("storage: queue closed")

const (
	queueDepth            = 32
	xzCompressionLevel    = 6
	defaultMinFreePercent = 10
	indexFilename         = "index"
)

// EncodeURL maps a WARC URL to its on-disk filename stem, per the storage
// contract: every '/' becomes '!' so the result never contains a path
// separator.
func EncodeURL(warcURL string) string {
	return strings.ReplaceAll(warcURL, "/", "!")
}

// DecodeURL reverses EncodeURL.
func DecodeURL(encoded string) string {
	return strings.ReplaceAll(encoded, "!", "/")
}

type writeJob struct {
	warcURL string
	summary analyze.ArchiveSummary
}

// Writer is the sole owner of a forms.d corpus directory during a run. It
// accepts (warcURL, ArchiveSummary) pairs on a bounded queue and serializes
// them one at a time, in the order received, so the index is always
// consistent with what is actually on disk.
type Writer struct {
	Root               string
	MinFreeDiskPercent float64

	queue  chan writeJob
	wg     sync.WaitGroup
	mu     sync.Mutex
	seen   map[string]bool
	indexF *os.File
	err    error
}

// NewWriter creates root if absent, rewrites forms.d/index atomically from
// its own prior contents (tolerating a previous partial run, per the
// open-index-rewrite design note), then opens it for appending.
func NewWriter(root string) (*Writer, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	w := &Writer{
		Root:               root,
		MinFreeDiskPercent: defaultMinFreePercent,
		queue:              make(chan writeJob, queueDepth),
		seen:               make(map[string]bool),
	}
	existing, err := readIndexLines(filepath.Join(root, indexFilename))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	for _, u := range existing {
		w.seen[u] = true
	}
	if err := w.rewriteIndex(existing); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	f, err := os.OpenFile(filepath.Join(root, indexFilename), os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	w.indexF = f
	w.wg.Add(1)
	go w.run()
	return w, nil
}

// Seen reports whether warcURL already has a completed summary, per the
// index loaded at construction plus every summary this writer has written
// since.
func (w *Writer) Seen(warcURL string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.seen[warcURL]
}

func readIndexLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines, sc.Err()
}

func (w *Writer) rewriteIndex(lines []string) error {
	tmp := filepath.Join(w.Root, indexFilename+".tmp")
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(f)
	for _, line := range lines {
		if _, err := fmt.Fprintf(bw, "%s\n", line); err != nil {
			f.Close()
			return err
		}
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return fileutils.MoveFile(filepath.Join(w.Root, indexFilename), tmp)
}

// Enqueue hands (warcURL, summary) to the writer, blocking while the bounded
// queue is full. It returns ErrQueueClosed if the writer has already shut
// down (after Close, or after a prior StorageError).
func (w *Writer) Enqueue(warcURL string, summary analyze.ArchiveSummary) (err error) {
	w.mu.Lock()
	closed := w.err != nil
	w.mu.Unlock()
	if closed {
		return ErrQueueClosed
	}
	// Close closes the queue channel; a send after that panics, which is
	// reported as a closed queue.
	defer func() {
		if recover() != nil {
			err = ErrQueueClosed
		}
	}()
	w.queue <- writeJob{warcURL: warcURL, summary: summary}
	return nil
}

// Close stops accepting new work, drains the queue, and closes the index
// file. It returns the first storage error encountered, if any.
func (w *Writer) Close() error {
	close(w.queue)
	w.wg.Wait()
	if w.indexF != nil {
		w.indexF.Close()
	}
	return w.err
}

func (w *Writer) run() {
	defer w.wg.Done()
	for job := range w.queue {
		if err := w.writeOne(job); err != nil {
			w.mu.Lock()
			if w.err == nil {
				w.err = err
			}
			w.mu.Unlock()
			slog.Error("storage write failed", "warc_url", job.warcURL, "err", err)
			continue
		}
	}
}

func (w *Writer) writeOne(job writeJob) error {
	if ok, err := hasSufficientDiskSpace(w.Root, w.MinFreeDiskPercent); err != nil {
		return fmt.Errorf("%w: disk check: %v", ErrStorage, err)
	} else if !ok {
		return fmt.Errorf("%w: insufficient free disk space in %s", ErrStorage, w.Root)
	}

	payload, err := json.Marshal(job.summary)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}

	name := EncodeURL(job.warcURL) + ".json.xz"
	tmp := filepath.Join(w.Root, name+".tmp")
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	xw, err := xz.NewWriter(f)
	if err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if _, err := xw.Write(payload); err != nil {
		xw.Close()
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if err := xw.Close(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if err := os.Rename(tmp, filepath.Join(w.Root, name)); err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}

	// The index entry must appear only after the archive file is fully
	// written and flushed, so a crash between these two steps leaves the
	// file orphaned but never leaves a dangling index line.
	if _, err := fmt.Fprintf(w.indexF, "%s\n", job.warcURL); err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if err := w.indexF.Sync(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	w.mu.Lock()
	w.seen[job.warcURL] = true
	w.mu.Unlock()
	return nil
}

func hasSufficientDiskSpace(dir string, minPercent float64) (bool, error) {
	if minPercent <= 0 {
		minPercent = defaultMinFreePercent
	}
	usage, err := disk.Usage(dir)
	if err != nil {
		return false, err
	}
	freePercent := float64(usage.Free) * 100 / float64(usage.Total)
	return freePercent >= minPercent, nil
}
