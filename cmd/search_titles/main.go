// Command search-titles parses advanced title search result pages (from
// stdin, a URL, a title query, or a directory of saved pages) and prints the
// records as JSON. Records can also be upserted into the configured store.
//
// Usage (stdin):
//
//	cat results.html | search-titles
//
// Usage (search by title, first page only):
//
//	search-titles -title "the passion" -limit 10
//
// Usage (print the page URLs covering 120 results):
//
//	search-titles -title "the passion" -pages 120
//
// Usage (directory mode, persisted):
//
//	search-titles -dir ./pages -store -config titlesearch.yaml
//
// Debug (print text for selector matches):
//
//	cat results.html | search-titles -selector "span.lister-item-year" -text
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"titlesearch/internal/config"
	"titlesearch/internal/extract"
	"titlesearch/internal/fetch"
	"titlesearch/internal/logging"
	"titlesearch/internal/metrics"
	"titlesearch/internal/metrics/datadog"
	"titlesearch/internal/search"
	"titlesearch/internal/storage"
	_ "titlesearch/internal/storage/all"
)

func main() {
	os.Exit(run(
		context.Background(),
		os.Args[1:],
		os.Stdin,
		os.Stdout,
		os.Stderr,
		http.DefaultClient,
	))
}

// errUsage marks setup failures that map to exit code 2.
var errUsage = errors.New("usage")

// run is split out from main so we can unit test the command without spawning
// an OS process.
//
// It returns a Unix-style exit code:
//   - 0 for success
//   - 2 for usage/config errors
//   - 1 for operational/runtime errors
func run(
	ctx context.Context,
	args []string,
	stdin io.Reader,
	stdout io.Writer,
	stderr io.Writer,
	httpClient *http.Client,
) int {
	fs := flag.NewFlagSet("search-titles", flag.ContinueOnError)
	fs.SetOutput(stderr)

	configPath := fs.String("config", "", "Optional: YAML/JSON config file (TITLESEARCH_* env vars override it)")
	titleFlag := fs.String("title", "", "Search for this title instead of reading stdin")
	urlFlag := fs.String("url", "", "Optional: fetch a result page from URL instead of stdin")
	dirFlag := fs.String("dir", "", "Optional: directory of saved result pages to parse")
	rulesPath := fs.String("rules", "", "Optional: JSON rule file replacing the built-in rules")
	limit := fs.Int("limit", 0, "Keep at most this many records per page (0 = use config)")
	strict := fs.Bool("strict", false, "Fail when annotation fields collide with extracted fields")
	pages := fs.Int("pages", 0, "Print the result page URLs covering this many results for -title, then exit")
	store := fs.Bool("store", false, "Upsert records into the configured storage backend")
	dump := fs.Bool("dump", false, "Print records with spew instead of JSON")
	onlyText := fs.Bool("text", false, "Debug: print text blocks for -selector matches (not JSON)")
	debugSelector := fs.String("selector", "", "Debug: CSS selector to print matches for (not JSON)")

	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "load config: %v\n", err)
		return 2
	}
	if *limit > 0 {
		cfg.Search.Limit = *limit
	}
	if *strict {
		cfg.Search.StrictMerge = true
	}
	if *rulesPath != "" {
		cfg.Search.RulesFile = *rulesPath
	}

	log, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		fmt.Fprintf(stderr, "init logger: %v\n", err)
		return 2
	}
	defer func() { _ = log.Sync() }()

	if *pages > 0 {
		if *titleFlag == "" {
			fmt.Fprintf(stderr, "-pages requires -title\n")
			return 2
		}
		if err := search.PrintPageURLs(stdout, cfg.Search.BaseURL, *titleFlag, *pages); err != nil {
			fmt.Fprintf(stderr, "pages: %v\n", err)
			return 1
		}
		return 0
	}

	pageURL := *urlFlag
	if pageURL == "" && *titleFlag != "" {
		if pageURL, err = search.SearchURL(cfg.Search.BaseURL, *titleFlag, 1); err != nil {
			fmt.Fprintf(stderr, "search url: %v\n", err)
			return 2
		}
	}

	loader := fetch.NewLoader(httpClient, cfg.Fetch.Timeout, cfg.Fetch.UserAgent)

	// Debug selector mode needs HTML input (stdin or url) but no rules.
	if *debugSelector != "" {
		html, err := loader.Load(ctx, fetch.Input{URL: pageURL, Stdin: stdin})
		if err != nil {
			fmt.Fprintf(stderr, "load html: %v\n", err)
			return 1
		}
		if err := extract.DebugPrintSelector(stdout, html, *debugSelector, *onlyText); err != nil {
			fmt.Fprintf(stderr, "debug selector: %v\n", err)
			return 1
		}
		return 0
	}

	stopMetrics, err := startMetrics(ctx, cfg.Metrics, log)
	if err != nil {
		fmt.Fprintf(stderr, "metrics: %v\n", err)
		return 2
	}
	defer stopMetrics()

	parser, err := newParser(cfg.Search, log)
	if err != nil {
		fmt.Fprintf(stderr, "rules: %v\n", err)
		return 2
	}

	var sink *titleSink
	if *store {
		if sink, err = openSink(ctx, cfg.Storage, log); err != nil {
			fmt.Fprintf(stderr, "storage: %v\n", err)
			if errors.Is(err, errUsage) {
				return 2
			}
			return 1
		}
		defer sink.repo.Close()
	}

	// Directory mode: stream output as a single JSON array.
	if *dirFlag != "" {
		var fn func([]search.FileRecord) error
		if sink != nil {
			fn = func(batch []search.FileRecord) error {
				recs := make([]extract.Record, len(batch))
				for i, fr := range batch {
					recs[i] = fr.Record
				}
				return sink.write(ctx, batch[0].SourceFile, recs)
			}
		}
		if err := search.StreamFromDir(stdout, *dirFlag, parser, fn); err != nil {
			fmt.Fprintf(stderr, "dir parse: %v\n", err)
			return 1
		}
		return 0
	}

	// Single input mode: stdin, -url or -title
	html, err := loader.Load(ctx, fetch.Input{URL: pageURL, Stdin: stdin})
	if err != nil {
		fmt.Fprintf(stderr, "load html: %v\n", err)
		return 1
	}

	recs, err := parser.Parse(html)
	if err != nil {
		fmt.Fprintf(stderr, "parse: %v\n", err)
		return 1
	}

	if sink != nil {
		source := pageURL
		if source == "" {
			source = "stdin"
		}
		if err := sink.write(ctx, source, recs); err != nil {
			fmt.Fprintf(stderr, "store: %v\n", err)
			return 1
		}
	}

	if *dump {
		spew.Fdump(stdout, recs)
		return 0
	}
	enc := json.NewEncoder(stdout)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(recs); err != nil {
		fmt.Fprintf(stderr, "encode json: %v\n", err)
		return 1
	}
	return 0
}

// newParser builds the parser from config, compiling the rule file when one
// is set.
func newParser(cfg config.SearchConfig, log *zap.Logger) (*search.Parser, error) {
	opts := []search.ParserOption{
		search.WithLimit(cfg.LimitValue()),
		search.WithStrictMerge(cfg.StrictMerge),
		search.WithLogger(log.Named("search")),
	}
	if cfg.RulesFile != "" {
		rf, err := extract.LoadRuleFile(cfg.RulesFile)
		if err != nil {
			return nil, err
		}
		rules, err := rf.Compile(search.Normalizers)
		if err != nil {
			return nil, err
		}
		opts = append(opts, search.WithRules(rules))
	}
	return search.NewParser(opts...)
}

// startMetrics installs the configured metrics backend. The returned func
// flushes and restores the no-op backend.
func startMetrics(ctx context.Context, cfg config.MetricsConfig, log *zap.Logger) (func(), error) {
	if cfg.Backend != "datadog" {
		return func() {}, nil
	}

	b, err := datadog.NewBackend(ctx, datadog.Options{
		JobName:    cfg.JobName,
		Tags:       datadog.ParseTagsCSV(cfg.Tags),
		FlushEvery: cfg.FlushEvery,
	})
	if err != nil {
		return nil, err
	}
	metrics.SetBackend(b)

	return func() {
		if err := b.Close(); err != nil {
			log.Warn("final metrics flush failed", zap.Error(err))
		}
		metrics.SetBackend(nil)
	}, nil
}

// titleSink upserts parsed records under one run id.
type titleSink struct {
	repo  storage.Repository
	runID string
	log   *zap.Logger
}

func openSink(ctx context.Context, cfg config.StorageConfig, log *zap.Logger) (*titleSink, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("%w: -store needs storage.kind and storage.dsn", errUsage)
	}
	repo, err := storage.New(ctx, cfg.Repository())
	if err != nil {
		return nil, err
	}
	if err := repo.EnsureSchema(ctx); err != nil {
		repo.Close()
		return nil, err
	}

	runID := uuid.NewString()
	log.Info("storing titles", zap.String("kind", cfg.Kind), zap.String("run_id", runID))
	return &titleSink{repo: repo, runID: runID, log: log}, nil
}

func (s *titleSink) write(ctx context.Context, source string, recs []extract.Record) error {
	now := time.Now().UTC()
	titles := make([]storage.Title, 0, len(recs))
	for _, r := range recs {
		t, err := storage.TitleFromRecord(s.runID, source, r, now)
		if err != nil {
			return err
		}
		titles = append(titles, t)
	}

	n, err := s.repo.UpsertTitles(ctx, titles)
	if err != nil {
		return err
	}
	metrics.IncCounter(metrics.RecordsTotal, float64(len(titles)), metrics.Labels{"kind": "stored"})
	s.log.Debug("stored titles", zap.String("source", source), zap.Int("titles", len(titles)), zap.Int64("affected", n))
	return nil
}
