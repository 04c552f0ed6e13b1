package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/miku/ccforms/analyze"
)

func TestEncodeDecodeURLRoundtrip(t *testing.T) {
	u := "https://data.commoncrawl.org/crawl-data/CC-MAIN-2023-40/segments/x/warc/a.warc.gz"
	enc := EncodeURL(u)
	if filepath.Base(enc) != enc {
		t.Fatalf("encoded url still contains a path separator: %q", enc)
	}
	if got := DecodeURL(enc); got != u {
		t.Fatalf("roundtrip mismatch: got %q, want %q", got, u)
	}
}

func TestWriterWriteThenLoadRoundtrip(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	want := analyze.ArchiveSummary{
		NrUnknownEncoding:      1,
		NrURLsWithoutPatterns:  2,
		NrFormsWithoutPatterns: 3,
		URLsWithPatternForms: []analyze.URLSummary{
			{URL: "http://example.com/a", WithPatterns: []string{"<form></form>"}},
		},
	}
	warcURL := "https://data.commoncrawl.org/crawl-data/X/segments/y/a.warc.gz"
	if err := w.Enqueue(warcURL, want); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	c := NewCorpus(dir)
	got, err := c.Load(warcURL)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}

	urls, err := c.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(urls) != 1 || urls[0] != warcURL {
		t.Fatalf("expected index to contain exactly the written url, got %v", urls)
	}
}

func TestWriterSurvivesRestartAndDoesNotDuplicateIndex(t *testing.T) {
	dir := t.TempDir()
	w1, err := NewWriter(dir)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w1.Enqueue("http://x/1.warc.gz", analyze.Zero()); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := w1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	w2, err := NewWriter(dir)
	if err != nil {
		t.Fatalf("second NewWriter: %v", err)
	}
	if !w2.Seen("http://x/1.warc.gz") {
		t.Fatalf("expected prior run's URL to be recognized as seen")
	}
	if err := w2.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	c := NewCorpus(dir)
	urls, err := c.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	seen := map[string]int{}
	for _, u := range urls {
		seen[u]++
	}
	for u, n := range seen {
		if n != 1 {
			t.Errorf("url %q appears %d times in index, expected exactly once", u, n)
		}
	}
}

func TestEnqueueAfterCloseIsQueueClosed(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := w.Enqueue("http://x/after-close.warc.gz", analyze.Zero()); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed after Close, got %v", err)
	}
}

func TestNewWriterCreatesDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "forms.d")
	w, err := NewWriter(dir)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	defer w.Close()
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("expected directory to be created: %v", err)
	}
}
