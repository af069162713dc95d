// Package processor adapts the MongoDB writer pool to the crawler's per-URI
// processing chain.
package processor

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/hiber-niu/heritrix-mongodb-writer/internal/crawler"
	"github.com/hiber-niu/heritrix-mongodb-writer/internal/mongodb"
	"github.com/hiber-niu/heritrix-mongodb-writer/internal/pool"
)

// Stats bucket and key names populated after each written document.
const (
	BucketTotals    = "totals"
	KeyNumDocuments = "numDocuments"
	KeyContentBytes = "contentBytes"
	KeySizeOnDisk   = "sizeOnDisk"
)

// AnnotationUnwrittenSize marks URIs rejected by the size gate.
const AnnotationUnwrittenSize = crawler.AnnotationUnwritten + ":size"

// Skip reasons reported to the Observer.
const (
	SkipHostRejected = "host_rejected"
	SkipFetchFailed  = "fetch_failed"
	SkipEmpty        = "empty"
	SkipSize         = "size"
	SkipNotWritten   = "not_written"
)

// Config carries the host policy knobs.
type Config struct {
	// PoolMaxActive caps the number of writers.
	PoolMaxActive int
	// MaxWaitForIdle bounds how long a URI waits for a writer.
	MaxWaitForIdle time.Duration
	// MaxFileSizeBytes is the write gate on ContentSize. Zero falls back to
	// the parameters' max content size.
	MaxFileSizeBytes int64
}

// Observer receives processing events. Implementations must be safe for
// concurrent use.
type Observer interface {
	ObserveWrite(site string, bytes int64)
	ObserveSkip(reason string)
	ObserveFailure(kind string)
}

// Processor writes each admitted URI to MongoDB through a pool of writers.
type Processor struct {
	params    *mongodb.Parameters
	cfg       Config
	host      Host
	connector mongodb.Connector
	observer  Observer
	logger    *zap.Logger

	pool   *pool.Pool[*mongodb.Writer]
	serial *atomic.Int64

	urlsWritten       atomic.Int64
	totalBytesWritten atomic.Int64
	stats             *Stats
}

// New builds a Processor. Nil host, connector, observer and logger fall back
// to DefaultHost, the MongoDB driver, no observation and a no-op logger.
func New(
	params *mongodb.Parameters,
	cfg Config,
	host Host,
	connector mongodb.Connector,
	observer Observer,
	logger *zap.Logger,
) (*Processor, error) {
	if params == nil {
		return nil, fmt.Errorf("mongodb parameters are required")
	}
	if host == nil {
		host = DefaultHost{}
	}
	if connector == nil {
		connector = mongodb.MongoConnector{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		params:    params,
		cfg:       cfg,
		host:      host,
		connector: connector,
		observer:  observer,
		logger:    logger.Named("processor"),
		stats:     NewStats(),
	}, nil
}

// SetupPool freezes the parameters and builds the writer pool. serial is the
// counter shared by every writer; nil keeps the one restored from a
// checkpoint, or starts a fresh one.
func (p *Processor) SetupPool(serial *atomic.Int64) error {
	if p.pool != nil {
		return fmt.Errorf("writer pool already set up")
	}
	if serial == nil {
		serial = p.serial
	}
	if serial == nil {
		serial = new(atomic.Int64)
	}
	p.params.Freeze()
	p.serial = serial

	var poolObserver pool.Observer
	if o, ok := p.observer.(pool.Observer); ok {
		poolObserver = o
	}
	factory := func(ctx context.Context, serial int64) (*mongodb.Writer, error) {
		return mongodb.NewWriter(ctx, p.params, serial, p.connector, p.logger)
	}
	wp, err := pool.New(serial, factory, pool.Options{
		MaxActive: p.cfg.PoolMaxActive,
		MaxWait:   p.cfg.MaxWaitForIdle,
		Observer:  poolObserver,
	}, p.logger)
	if err != nil {
		return fmt.Errorf("create writer pool: %w", err)
	}
	p.pool = wp
	return nil
}

// Process is the per-URI entry point. It always returns ProcessResultProceed;
// the error is non-nil only for ErrConfigUnset, which means the sink was
// never configured and the host should stop.
func (p *Processor) Process(ctx context.Context, uri crawler.CrawlURI) (crawler.ProcessResult, error) {
	if !p.ShouldProcess(uri) {
		return crawler.ProcessResultProceed, nil
	}
	return p.innerProcessResult(ctx, uri)
}

func (p *Processor) innerProcessResult(ctx context.Context, uri crawler.CrawlURI) (crawler.ProcessResult, error) {
	if !p.ShouldWrite(uri) {
		p.host.CopyForwardWriteTagIfDupe(uri)
		return crawler.ProcessResultProceed, nil
	}

	err := p.write(ctx, uri)
	switch {
	case err == nil:
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		// Interrupted by the host; its cancellation contract applies.
	case errors.Is(err, mongodb.ErrConfigUnset):
		p.logger.Error("mongodb sink is not configured", zap.Error(err))
		return crawler.ProcessResultProceed, err
	default:
		uri.AddNonFatalFailure(err)
		p.observeFailure(failureKind(err))
		p.logger.Error("failed write of record", zap.String("url", uri.URL()), zap.Error(err))
	}
	return crawler.ProcessResultProceed, nil
}

// ShouldProcess rejects URIs the host rejects, failed fetches and empty captures.
func (p *Processor) ShouldProcess(uri crawler.CrawlURI) bool {
	switch {
	case !p.host.ShouldProcess(uri):
		p.observeSkip(SkipHostRejected)
		return false
	case uri.FetchStatus() <= 0:
		p.observeSkip(SkipFetchFailed)
		return false
	case uri.ContentSize() <= 0:
		// Even a headers-only response has a positive content size.
		p.observeSkip(SkipEmpty)
		return false
	}
	return true
}

// ShouldWrite rejects URIs the host will not write and URIs larger than the
// max file size; the latter are annotated with "unwritten:size".
func (p *Processor) ShouldWrite(uri crawler.CrawlURI) bool {
	if !p.host.ShouldWrite(uri) {
		p.observeSkip(SkipNotWritten)
		return false
	}
	limit := p.MaxFileSizeBytes()
	if limit > 0 && uri.ContentSize() > limit {
		uri.Annotate(AnnotationUnwrittenSize)
		p.observeSkip(SkipSize)
		p.logger.Warn("content size too large",
			zap.String("url", uri.URL()),
			zap.Int64("content_size", uri.ContentSize()),
			zap.Int64("max_file_size", limit),
		)
		return false
	}
	return true
}

// MaxFileSizeBytes returns the effective write gate; zero or less disables it.
func (p *Processor) MaxFileSizeBytes() int64 {
	if p.cfg.MaxFileSizeBytes > 0 {
		return p.cfg.MaxFileSizeBytes
	}
	return int64(p.params.MaxContentSizeBytes())
}

func (p *Processor) write(ctx context.Context, uri crawler.CrawlURI) (err error) {
	if p.pool == nil {
		return fmt.Errorf("writer pool not set up")
	}
	w, err := p.pool.Borrow(ctx)
	if err != nil {
		return fmt.Errorf("borrow writer: %w", err)
	}
	before := w.Position()
	defer func() {
		p.totalBytesWritten.Add(w.Position() - before)
		p.release(w, err)
	}()

	var request crawler.Recording
	var response crawler.ResponseRecording
	if rec := uri.Recorder(); rec != nil {
		request = rec.RecordedOutput()
		response = rec.RecordedInput()
	}
	written, err := w.Write(ctx, uri, p.host.HostAddress(uri), request, response)
	if err != nil {
		return err
	}
	if written {
		size := w.Position() - before
		p.urlsWritten.Add(1)
		p.recordStats(uri, size)
		if p.observer != nil {
			p.observer.ObserveWrite(siteOf(uri.URL()), size)
		}
	}
	return nil
}

// release hands the writer back, dropping it when its connection is unusable
// so that the next borrower gets a fresh one.
func (p *Processor) release(w *mongodb.Writer, writeErr error) {
	if !w.Available() || errors.Is(writeErr, mongodb.ErrStoreUnavailable) {
		if err := p.pool.Invalidate(w); err != nil {
			p.logger.Warn("invalidate writer failed", zap.Int64("serial", w.Serial()), zap.Error(err))
		}
		return
	}
	if err := p.pool.Return(w); err != nil {
		p.logger.Warn("return writer failed", zap.Int64("serial", w.Serial()), zap.Error(err))
	}
}

func (p *Processor) recordStats(uri crawler.CrawlURI, size int64) {
	substats := map[string]int64{
		KeyNumDocuments: 1,
		KeyContentBytes: uri.ContentSize(),
		KeySizeOnDisk:   size,
	}
	batch := map[string]map[string]int64{BucketTotals: substats}
	if site := siteOf(uri.URL()); site != "" {
		batch[site] = substats
	}
	p.AddStats(batch)
}

// AddStats merges bucket → key → count into the live stats.
func (p *Processor) AddStats(substats map[string]map[string]int64) {
	p.stats.Merge(substats)
}

// Stats returns the live statistics.
func (p *Processor) Stats() *Stats { return p.stats }

// StatsSnapshot copies the live statistics.
func (p *Processor) StatsSnapshot() map[string]map[string]int64 { return p.stats.Snapshot() }

// URLsWritten returns the number of documents inserted.
func (p *Processor) URLsWritten() int64 { return p.urlsWritten.Load() }

// TotalBytesWritten returns the sum of writer position advances.
func (p *Processor) TotalBytesWritten() int64 { return p.totalBytesWritten.Load() }

// PoolStats returns the writer pool counts, or zero before SetupPool.
func (p *Processor) PoolStats() pool.Stats {
	if p.pool == nil {
		return pool.Stats{}
	}
	return p.pool.Stats()
}

// Ready reports whether the writer pool is set up and still open.
func (p *Processor) Ready() bool {
	return p.pool != nil && !p.pool.Closed()
}

// Close tears down the writer pool.
func (p *Processor) Close() error {
	if p.pool == nil {
		return nil
	}
	if err := p.pool.Close(); err != nil && !errors.Is(err, pool.ErrPoolClosed) {
		return fmt.Errorf("close writer pool: %w", err)
	}
	return nil
}

func (p *Processor) observeSkip(reason string) {
	if p.observer != nil {
		p.observer.ObserveSkip(reason)
	}
}

func (p *Processor) observeFailure(kind string) {
	if p.observer != nil {
		p.observer.ObserveFailure(kind)
	}
}

func failureKind(err error) string {
	switch {
	case errors.Is(err, pool.ErrPoolExhausted):
		return "pool_exhausted"
	case errors.Is(err, mongodb.ErrStoreUnavailable):
		return "store_unavailable"
	case errors.Is(err, mongodb.ErrStoreWrite):
		return "store_write"
	case errors.Is(err, mongodb.ErrStreamIO):
		return "stream_io"
	default:
		return "other"
	}
}

func siteOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
