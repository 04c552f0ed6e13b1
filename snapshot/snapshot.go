// Package snapshot drives the end-to-end pipeline for one Common Crawl
// snapshot: fetch its WARC path manifest, skip WARCs already present in the
// corpus index, and run fetch→decode→analyze→write for everything left.
package snapshot

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/miku/ccforms/fetch"
	"github.com/miku/ccforms/reduce"
	"github.com/miku/ccforms/storage"
)

const originBase = "https://data.commoncrawl.org/"

// defaultCooldown is slept once before the manifest fetch and once after
// every WARC, mirroring the original cc-get binary's COOLDOWN_S.
const defaultCooldown = 10 * time.Second

// defaultWorkers mirrors cc-get's SIMULTANEOUS_FETCHES, the per-WARC record
// analysis concurrency handed to reduce.WARC.
const defaultWorkers = 8

// ErrManifest marks a fatal failure fetching or parsing the snapshot's
// warc.paths.gz manifest; the whole run aborts.
var ErrManifest = errors.New("snapshot: manifest fetch failed")

// ErrAborted marks a non-skippable failure for an individual WARC: a
// transport error or non-4xx error status from the fetcher, or a failure
// handing the summary to the writer. 5xx responses never reach the driver,
// since the fetcher retries them indefinitely. The driver stops and leaves
// resumption to the operator, per the index's resumability contract.
var ErrAborted = errors.New("snapshot: aborted")

// Driver runs C7 for one snapshot id.
type Driver struct {
	Fetcher    *fetch.Fetcher
	Writer     *storage.Writer
	Workers    int
	Cooldown   time.Duration
	OriginBase string
}

// NewDriver returns a Driver with the default cooldown, worker count, and
// origin, writing into w.
func NewDriver(f *fetch.Fetcher, w *storage.Writer) *Driver {
	return &Driver{
		Fetcher:    f,
		Writer:     w,
		Workers:    defaultWorkers,
		Cooldown:   defaultCooldown,
		OriginBase: originBase,
	}
}

// Run fetches snapshotID's manifest, skips WARC paths already recorded in
// the writer's index, and runs the fetch/analyze/write pipeline for every
// path that remains, in manifest order.
func (d *Driver) Run(snapshotID string) error {
	slog.Info("snapshot run starting", "snapshot_id", snapshotID, "workers", d.Workers, "cooldown", d.Cooldown)
	time.Sleep(d.Cooldown)

	paths, err := d.manifest(snapshotID)
	if err != nil {
		return err
	}
	slog.Info("manifest loaded", "snapshot_id", snapshotID, "nr_paths", len(paths))

	var nrSkipped, nrProcessed int
	for _, path := range paths {
		warcURL := d.OriginBase + path
		if d.Writer.Seen(warcURL) {
			nrSkipped++
			continue
		}
		if err := d.processOne(warcURL); err != nil {
			if errors.Is(err, errSkip) {
				slog.Warn("skipping warc", "warc_url", warcURL, "err", err)
				continue
			}
			slog.Error("aborting snapshot run", "warc_url", warcURL, "err", err)
			return fmt.Errorf("%w: %v", ErrAborted, err)
		}
		nrProcessed++
		time.Sleep(d.Cooldown)
	}
	slog.Info("snapshot run finished", "snapshot_id", snapshotID, "nr_processed", nrProcessed, "nr_skipped", nrSkipped)
	return nil
}

var errSkip = errors.New("snapshot: skip")

// manifest fetches and decodes crawl-data/<id>/warc.paths.gz into a list of
// WARC paths. The manifest itself is gzip-decoded directly (it is not a
// WARC stream), tolerating the multi-member framing Common Crawl uses for
// its path lists the same way it does for WARC files.
func (d *Driver) manifest(snapshotID string) ([]string, error) {
	url := d.OriginBase + "crawl-data/" + snapshotID + "/warc.paths.gz"
	resp, err := d.Fetcher.Get(url)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, fmt.Errorf("%w: %v", ErrManifest, err)
	}
	defer resp.Body.Close()

	gr, err := gzip.NewReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrManifest, err)
	}
	gr.Multistream(true)
	body, err := io.ReadAll(gr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrManifest, err)
	}

	var paths []string
	for _, line := range strings.Split(string(body), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			paths = append(paths, line)
		}
	}
	return paths, nil
}

// processOne runs C1→C2→C5 for a single WARC and hands the resulting
// summary to C6. A 4xx on the individual WARC, or a failure decoding or
// reducing its body (a corrupt or non-gzip WARC), is a skip of that one
// WARC, not an abort of the run; a transport error or a failure enqueueing
// the summary aborts.
func (d *Driver) processOne(warcURL string) error {
	resp, err := d.Fetcher.Get(warcURL)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		var statusErr *fetch.StatusError
		if errors.As(err, &statusErr) && statusErr.Code >= 400 && statusErr.Code < 500 {
			return errSkip
		}
		return err
	}
	defer resp.Body.Close()

	summary, err := reduce.WARC(resp.Body, d.Workers)
	if err != nil {
		return fmt.Errorf("%w: reduce: %v", errSkip, err)
	}
	if err := d.Writer.Enqueue(warcURL, summary); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	return nil
}
