// Command promo-ingest loads promo codes from gzip-compressed partner feeds
// into the promo catalog.
//
// Each feed line is either a bare code, which gets the default rule, or
// "CODE,kind,value[,description]". With --min-feeds N a code is only
// accepted when it appears in at least N feeds.
package main

import (
	"bufio"
	"context"
	"flag"
	"log/slog"
	"math/bits"
	"os"
	"os/signal"
	"strings"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/oolio-orders/internal/domain/promo"
	"github.com/xenking/oolio-orders/internal/storage/postgres"
)

const (
	bloomCapacity = 10_000_000
	bloomFPR      = 0.001
	progressEvery = 1_000_000
	upsertBatch   = 1000
	maxFeeds      = 64
)

type options struct {
	minFeeds       int
	defaultPercent decimal.Decimal
}

func main() {
	var (
		databaseURL    string
		minFeeds       int
		defaultPercent string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&minFeeds, "min-feeds", 1, "number of feeds a code must appear in")
	flag.StringVar(&defaultPercent, "default-percent", "10", "percentage discount for bare codes")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	files := flag.Args()
	if len(files) == 0 || len(files) > maxFeeds {
		slog.Error("usage: promo-ingest [flags] feed1.gz [feed2.gz ...]", slog.Int("max_feeds", maxFeeds))
		os.Exit(2)
	}
	percent, err := decimal.NewFromString(defaultPercent)
	if err != nil {
		slog.Error("invalid --default-percent", slog.String("error", err.Error()))
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, files, options{minFeeds: minFeeds, defaultPercent: percent}); err != nil {
		slog.Error("promo ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("promo ingest completed successfully")
}

func run(ctx context.Context, databaseURL string, files []string, opts options) error {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			return errors.Wrapf(err, "check file %s", f)
		}
	}

	var filters []*bloom.BloomFilter
	if opts.minFeeds > 1 {
		slog.Info("pass 1: building bloom filters", slog.Int("files", len(files)))
		var err error
		if filters, err = buildBloomFilters(ctx, files); err != nil {
			return errors.Wrap(err, "build bloom filters")
		}
	}

	slog.Info("pass 2: collecting promo rules")
	rules, err := collectRules(ctx, files, filters, opts)
	if err != nil {
		return errors.Wrap(err, "collect rules")
	}
	slog.Info("valid codes found", slog.Int("count", len(rules)))
	if len(rules) == 0 {
		return nil
	}

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	return writeRules(ctx, postgres.NewPromoRepository(pool), rules)
}

// buildBloomFilters creates one bloom filter per file, concurrently.
func buildBloomFilters(ctx context.Context, files []string) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(bloomCapacity, bloomFPR)
			var count uint64
			err := streamGzFile(ctx, path, func(line string) {
				code, _, ok := strings.Cut(line, ",")
				if !ok {
					code = line
				}
				filter.AddString(promo.Normalize(code))
				count++
				if count%progressEvery == 0 {
					slog.Info("pass 1 progress", slog.Int("file", i+1), slog.Uint64("codes", count))
				}
			})
			if err != nil {
				return errors.Wrapf(err, "build filter for file %d", i+1)
			}
			filters[i] = filter
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return filters, nil
}

// collectRules parses every feed and keeps rules seen in at least
// opts.minFeeds feeds. The first feed that defines a code wins.
func collectRules(ctx context.Context, files []string, filters []*bloom.BloomFilter, opts options) ([]promo.Rule, error) {
	type seen struct {
		rule  promo.Rule
		feed  int
		feeds uint64
	}
	var (
		mu     sync.Mutex
		merged = make(map[string]*seen)
	)

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			var skipped uint64
			err := streamGzFile(ctx, path, func(line string) {
				rule, ok := parseLine(line, opts.defaultPercent)
				if !ok {
					skipped++
					return
				}
				if opts.minFeeds > 1 && !inOtherFeed(filters, i, rule.Code) {
					return
				}

				mu.Lock()
				defer mu.Unlock()
				s, ok := merged[rule.Code]
				if !ok {
					s = &seen{rule: rule, feed: i}
					merged[rule.Code] = s
				} else if i < s.feed {
					s.rule, s.feed = rule, i
				}
				s.feeds |= 1 << uint(i)
			})
			if err != nil {
				return errors.Wrapf(err, "scan file %d", i+1)
			}
			if skipped > 0 {
				slog.Warn("skipped malformed lines", slog.Int("file", i+1), slog.Uint64("lines", skipped))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	rules := make([]promo.Rule, 0, len(merged))
	for _, s := range merged {
		if bits.OnesCount64(s.feeds) >= opts.minFeeds {
			rules = append(rules, s.rule)
		}
	}
	return rules, nil
}

func inOtherFeed(filters []*bloom.BloomFilter, idx int, code string) bool {
	for j, f := range filters {
		if j != idx && f.TestString(code) {
			return true
		}
	}
	return false
}

// parseLine reads "CODE" or "CODE,kind,value[,description]".
func parseLine(line string, defaultPercent decimal.Decimal) (promo.Rule, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return promo.Rule{}, false
	}

	parts := strings.SplitN(line, ",", 4)
	rule := promo.Rule{Code: promo.Normalize(parts[0])}
	if !promo.ValidSyntax(rule.Code) {
		return promo.Rule{}, false
	}
	if len(parts) == 1 {
		rule.Kind = promo.KindPercentage
		rule.Value = defaultPercent
		rule.Description = defaultPercent.String() + "% off"
		return rule, true
	}
	if len(parts) < 3 {
		return promo.Rule{}, false
	}

	rule.Kind = promo.Kind(strings.TrimSpace(parts[1]))
	value, err := decimal.NewFromString(strings.TrimSpace(parts[2]))
	if err != nil || value.IsNegative() {
		return promo.Rule{}, false
	}
	rule.Value = value
	switch rule.Kind {
	case promo.KindPercentage:
		if value.GreaterThan(decimal.NewFromInt(100)) {
			return promo.Rule{}, false
		}
	case promo.KindFixed:
		if !value.IsInteger() {
			return promo.Rule{}, false
		}
	case promo.KindFreeShipping:
		rule.Value = decimal.Zero
	default:
		return promo.Rule{}, false
	}
	if len(parts) == 4 {
		rule.Description = strings.TrimSpace(parts[3])
	}
	return rule, true
}

// streamGzFile opens a gzip-compressed file and calls fn for each line.
func streamGzFile(ctx context.Context, path string, fn func(line string)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		fn(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	return nil
}

type ruleWriter interface {
	Upsert(ctx context.Context, rules []promo.Rule) error
}

// writeRules upserts rules in batches.
func writeRules(ctx context.Context, repo ruleWriter, rules []promo.Rule) error {
	slog.Info("writing promo codes to database", slog.Int("count", len(rules)))

	for start := 0; start < len(rules); start += upsertBatch {
		end := min(start+upsertBatch, len(rules))
		if err := repo.Upsert(ctx, rules[start:end]); err != nil {
			return errors.Wrapf(err, "upsert batch at %d", start)
		}
		slog.Info("write progress", slog.Int("written", end), slog.Int("total", len(rules)))
	}
	return nil
}
