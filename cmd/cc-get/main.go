// Command cc-get drives the C7 snapshot pipeline for one Common Crawl
// snapshot id: fetch its WARC manifest, skip WARCs already in the corpus
// index, and run fetch -> decode -> analyze -> write for the rest.
package main

import (
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"path"

	"github.com/adrg/xdg"

	"github.com/miku/ccforms/config"
	"github.com/miku/ccforms/fetch"
	"github.com/miku/ccforms/pidfile"
	"github.com/miku/ccforms/snapshot"
	"github.com/miku/ccforms/storage"
)

var (
	corpusDir   = flag.String("corpus", "", "corpus directory, defaults to config/XDG data dir")
	pidFile     = flag.String("pidfile", path.Join(xdg.RuntimeDir, "cc-get.pid"), "pidfile")
	logFile     = flag.String("logfile", "", "structured log output file, stderr if empty")
	debug       = flag.Bool("debug", false, "more verbose output")
	workers     = flag.Int("workers", 0, "record analysis worker count, 0 uses config/snapshot default")
	cooldown    = flag.Duration("cooldown", 0, "cooldown between fetches, 0 uses config/snapshot default")
	initialWait = flag.Duration("initial-wait", 0, "fetcher initial backoff wait, 0 uses config default")
	maxWait     = flag.Duration("max-wait", 0, "fetcher max backoff wait, 0 uses config default")
	timeout     = flag.Duration("timeout", 0, "fetcher per-request timeout, 0 uses config default")
)

func main() {
	os.Exit(run())
}

// run holds everything that needs its deferred cleanup (pidfile removal,
// log file close, writer shutdown) to complete before the process exits,
// since os.Exit skips pending defers.
func run() (exitCode int) {
	flag.Parse()
	if flag.NArg() != 1 {
		log.Fatal("usage: cc-get [flags] <snapshot-id>")
	}
	snapshotID := flag.Arg(0)

	v, err := config.Init()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	var cfg config.Config
	if err := v.Unmarshal(&cfg); err != nil {
		log.Fatalf("config: %v", err)
	}
	if *debug {
		cfg.Debug = true
	}
	if *logFile != "" {
		cfg.LogFile = *logFile
	}
	if *corpusDir != "" {
		cfg.CorpusDir = *corpusDir
	}
	if *workers > 0 {
		cfg.Snapshot.Workers = *workers
	}
	if *cooldown > 0 {
		cfg.Snapshot.Cooldown = *cooldown
	}
	if *initialWait > 0 {
		cfg.Fetcher.InitialWait = *initialWait
	}
	if *maxWait > 0 {
		cfg.Fetcher.MaxWait = *maxWait
	}
	if *timeout > 0 {
		cfg.Fetcher.Timeout = *timeout
	}

	if err := pidfile.Write(*pidFile, os.Getpid()); err != nil {
		slog.Error("exiting", "err", err, "pidfile", *pidFile)
		return 1
	}
	defer os.Remove(*pidFile)

	var (
		logLevel = slog.LevelInfo
		h        slog.Handler
	)
	if cfg.Debug {
		logLevel = slog.LevelDebug
	}
	switch {
	case cfg.LogFile != "":
		f, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			slog.Error("cannot open log", "err", err)
			return 1
		}
		defer f.Close()
		h = slog.NewJSONHandler(f, &slog.HandlerOptions{Level: logLevel})
	default:
		h = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	}
	slog.SetDefault(slog.New(h))

	w, err := storage.NewWriter(cfg.CorpusDir)
	if err != nil {
		slog.Error("cannot open corpus", "err", err, "corpus_dir", cfg.CorpusDir)
		return 1
	}
	defer func() {
		if err := w.Close(); err != nil {
			slog.Error("corpus writer shutdown", "err", err)
			exitCode = 1
		}
	}()

	f := fetch.NewFetcher()
	if cfg.Fetcher.InitialWait > 0 {
		f.InitialWait = cfg.Fetcher.InitialWait
	}
	if cfg.Fetcher.MaxWait > 0 {
		f.MaxWait = cfg.Fetcher.MaxWait
	}
	if cfg.Fetcher.Timeout > 0 {
		f.Timeout = cfg.Fetcher.Timeout
		f.Client = &http.Client{
			Timeout:   f.Timeout,
			Transport: &http.Transport{DisableCompression: true},
		}
	}

	d := snapshot.NewDriver(f, w)
	if cfg.Snapshot.Workers > 0 {
		d.Workers = cfg.Snapshot.Workers
	}
	if cfg.Snapshot.Cooldown > 0 {
		d.Cooldown = cfg.Snapshot.Cooldown
	}

	if err := d.Run(snapshotID); err != nil {
		slog.Error("snapshot run failed", "err", err, "snapshot_id", snapshotID)
		return 1
	}
	return 0
}
