// Package ingest marks shipped orders delivered from carrier delivery feeds.
//
// A feed is a gzip-compressed text file with one "carrier,trackingNumber"
// line per delivered parcel. Feeds are scanned concurrently and every line
// is tested against a bloom filter of the tracking numbers currently in
// transit, so only plausible hits reach the database.
package ingest

import (
	"bufio"
	"context"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/passproduct-escrow/internal/domain/auth"
	"github.com/xenking/passproduct-escrow/internal/domain/order"
)

const (
	bloomFPR      = 0.001
	progressEvery = 1_000_000
)

// ActorName is the system actor the ingest acts as.
const ActorName = "tracking-ingest"

// Deliverer applies the deliver transition. *order.Service implements it.
type Deliverer interface {
	MarkDelivered(ctx context.Context, actor auth.Actor, id string) (*order.Order, error)
}

// Result summarizes one ingest run.
type Result struct {
	Lines      uint64
	Malformed  uint64
	Candidates int
	Delivered  int
	// Skipped counts orders that left SHIPPED before the ingest reached them.
	Skipped int
	Failed  int
}

type Ingester struct {
	index  order.TrackingIndex
	orders Deliverer
	actor  auth.Actor
	lg     *slog.Logger
}

func New(index order.TrackingIndex, orders Deliverer, lg *slog.Logger) *Ingester {
	if lg == nil {
		lg = slog.Default()
	}
	return &Ingester{
		index:  index,
		orders: orders,
		actor:  auth.System(ActorName),
		lg:     lg,
	}
}

// Run scans files and delivers every shipped order whose tracking key
// appears in them. Per-order failures are counted in Result, not returned.
func (in *Ingester) Run(ctx context.Context, files []string) (Result, error) {
	var res Result

	keys, err := in.index.ShippedTracking(ctx)
	if err != nil {
		return res, errors.Wrap(err, "load shipped tracking numbers")
	}
	if len(keys) == 0 {
		in.lg.Info("no orders in transit")
		return res, nil
	}

	filter := bloom.NewWithEstimates(uint(len(keys)), bloomFPR)
	for _, k := range keys {
		filter.AddString(k.String())
	}
	in.lg.Info("bloom filter built", slog.Int("in_transit", len(keys)), slog.Int("files", len(files)))

	hits, err := in.scan(ctx, files, filter, &res)
	if err != nil {
		return res, err
	}
	res.Candidates = len(hits)
	in.lg.Info("feeds scanned",
		slog.Uint64("lines", res.Lines),
		slog.Uint64("malformed", res.Malformed),
		slog.Int("candidates", res.Candidates),
	)

	for _, k := range hits {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		in.deliver(ctx, k, &res)
	}

	in.lg.Info("ingest finished",
		slog.Int("delivered", res.Delivered),
		slog.Int("skipped", res.Skipped),
		slog.Int("failed", res.Failed),
	)
	return res, nil
}

// scan returns the deduplicated feed keys that pass the filter, sorted.
func (in *Ingester) scan(ctx context.Context, files []string, filter *bloom.BloomFilter, res *Result) ([]order.TrackingKey, error) {
	var lines, malformed atomic.Uint64
	found := make([][]order.TrackingKey, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			var n uint64
			err := streamFeed(ctx, path, func(k order.TrackingKey, ok bool) {
				n++
				if n%progressEvery == 0 {
					in.lg.Info("scan progress", slog.String("file", path), slog.Uint64("lines", n))
				}
				if !ok {
					malformed.Add(1)
					return
				}
				if filter.TestString(k.String()) {
					found[i] = append(found[i], k)
				}
			})
			lines.Add(n)
			if err != nil {
				return errors.Wrapf(err, "scan %s", path)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	res.Lines = lines.Load()
	res.Malformed = malformed.Load()

	merged := slices.Concat(found...)
	slices.SortFunc(merged, func(a, b order.TrackingKey) int {
		return strings.Compare(a.String(), b.String())
	})
	return slices.Compact(merged), nil
}

func (in *Ingester) deliver(ctx context.Context, k order.TrackingKey, res *Result) {
	shipped, err := in.index.FindShippedByTracking(ctx, k)
	if err != nil {
		res.Failed++
		in.lg.Error("lookup failed", slog.String("tracking", k.String()), slog.String("error", err.Error()))
		return
	}
	for _, o := range shipped {
		_, err := in.orders.MarkDelivered(ctx, in.actor, o.ID)
		switch {
		case err == nil:
			res.Delivered++
			in.lg.Info("order delivered", slog.String("order_id", o.ID), slog.String("tracking", k.String()))
		case errors.Is(err, order.ErrInvalidTransition):
			res.Skipped++
		default:
			res.Failed++
			in.lg.Error("deliver failed", slog.String("order_id", o.ID), slog.String("error", err.Error()))
		}
	}
}

// streamFeed calls fn for every non-blank line of a gzip feed. ok is false
// for lines that are not "carrier,trackingNumber".
func streamFeed(ctx context.Context, path string, fn func(k order.TrackingKey, ok bool)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open")
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrap(err, "create gzip reader")
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		carrier, number, found := strings.Cut(line, ",")
		k := order.NewTrackingKey(carrier, number)
		fn(k, found && k.Carrier != "" && k.TrackingNumber != "")
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, "read")
	}
	return nil
}
