// Package collyfetcher crawls with gocolly and hands every fetched URI to the
// MongoDB processor.
package collyfetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
	"golang.org/x/net/html/charset"

	"github.com/hiber-niu/heritrix-mongodb-writer/internal/crawler"
)

const (
	ctxPath       = "pathFromSeed"
	ctxVia        = "via"
	ctxFetchBegin = "fetchBegin"

	// hopLink is the path-from-seed code for a followed link.
	hopLink = "L"

	// fetchFailed is the status reported for fetches that produced no response.
	fetchFailed = -1
)

// Config controls collector behavior.
type Config struct {
	Seeds          []string
	AllowedDomains []string
	// MaxDepth is the number of link hops followed from a seed.
	MaxDepth     int
	Parallelism  int
	UserAgent    string
	Delay        time.Duration
	Timeout      time.Duration
	IgnoreRobots bool
}

// Sink consumes crawled URIs.
type Sink interface {
	Process(ctx context.Context, uri crawler.CrawlURI) (crawler.ProcessResult, error)
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnHTML(string, colly.HTMLCallback)
	OnError(colly.ErrorCallback)
}

// Crawler drives a colly collector and feeds its responses to a Sink.
type Crawler struct {
	cfg       Config
	sink      Sink
	host      *Host
	logger    *zap.Logger
	collector *colly.Collector
	now       func() time.Time
	enqueue   func(link string, ctx *colly.Context) error

	ctx      context.Context
	cancel   context.CancelFunc
	fatalMu  sync.Mutex
	fatalErr error
}

// New builds a Crawler. host must be the same Host the processor was built with.
func New(cfg Config, sink Sink, host *Host, logger *zap.Logger) (*Crawler, error) {
	if sink == nil {
		return nil, fmt.Errorf("sink is required")
	}
	if host == nil {
		host = NewHost(nil, 0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	collector := colly.NewCollector(colly.Async(true))
	collector.AllowedDomains = cfg.AllowedDomains
	collector.IgnoreRobotsTxt = cfg.IgnoreRobots
	// 4xx/5xx responses are still captures; the writer drops missing pages itself.
	collector.ParseHTTPErrorResponse = true
	if cfg.UserAgent != "" {
		collector.UserAgent = cfg.UserAgent
	}
	collector.SetRequestTimeout(cfg.Timeout)
	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: cfg.Parallelism,
		Delay:       cfg.Delay,
	}); err != nil {
		return nil, fmt.Errorf("set crawl limits: %w", err)
	}
	collector.WithTransport(&recordingTransport{
		base:   newHTTPTransport(),
		book:   host.addrs,
		logger: logger.Named("transport"),
	})

	c := &Crawler{
		cfg:       cfg,
		sink:      sink,
		host:      host,
		logger:    logger.Named("crawler"),
		collector: collector,
		now:       time.Now,
		ctx:       context.Background(),
		cancel:    func() {},
	}
	c.enqueue = func(link string, ctx *colly.Context) error {
		return collector.Request(http.MethodGet, link, nil, ctx, nil)
	}
	c.configureCollectorHooks(collector)
	return c, nil
}

// Run crawls from the configured seeds until the frontier drains or ctx is
// cancelled. A sink error that means the sink cannot work at all stops the
// crawl and is returned.
func (c *Crawler) Run(ctx context.Context) error {
	if len(c.cfg.Seeds) == 0 {
		return fmt.Errorf("at least one seed is required")
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	defer c.cancel()
	c.collector.Context = c.ctx

	for _, seed := range c.cfg.Seeds {
		if err := c.collector.Visit(seed); err != nil {
			c.logger.Warn("seed rejected", zap.String("url", seed), zap.Error(err))
		}
	}
	c.collector.Wait()

	if err := c.fatal(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("crawl interrupted: %w", err)
	}
	return nil
}

func (c *Crawler) configureCollectorHooks(hooks collectorHooks) {
	hooks.OnRequest(func(r *colly.Request) {
		if c.ctx.Err() != nil {
			r.Abort()
			return
		}
		r.Ctx.Put(ctxFetchBegin, c.now().UnixMilli())
	})

	hooks.OnResponse(c.handleResponse)

	hooks.OnHTML("a[href]", func(e *colly.HTMLElement) {
		c.followLink(e.Request, e.Attr("href"))
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r == nil || r.Request == nil {
			c.logger.Warn("fetch failed", zap.Error(err))
			return
		}
		if errors.Is(err, context.Canceled) {
			return
		}
		c.logger.Debug("fetch failed", zap.String("url", r.Request.URL.String()), zap.Error(err))
		uri := c.baseURI(r.Request)
		uri.Status = fetchFailed
		uri.AddNonFatalFailure(err)
		c.process(uri)
	})
}

func (c *Crawler) handleResponse(r *colly.Response) {
	uri := c.buildURI(r)
	c.host.RecordPayload(uri.Location, r.Body)
	defer c.host.Forget(uri.Location)
	c.process(uri)
}

func (c *Crawler) process(uri *crawler.URI) {
	if _, err := c.sink.Process(c.ctx, uri); err != nil {
		c.setFatal(err)
		c.logger.Error("sink failed; stopping crawl", zap.String("url", uri.URL()), zap.Error(err))
		c.cancel()
		return
	}
	for _, failure := range uri.NonFatalFailures() {
		c.logger.Debug("non-fatal failure", zap.String("url", uri.URL()), zap.Error(failure))
	}
}

func (c *Crawler) followLink(from *colly.Request, href string) {
	link := from.AbsoluteURL(strings.TrimSpace(href))
	if link == "" {
		return
	}
	path := from.Ctx.Get(ctxPath)
	if len(path)+1 > c.cfg.MaxDepth {
		return
	}
	ctx := colly.NewContext()
	ctx.Put(ctxPath, path+hopLink)
	ctx.Put(ctxVia, from.URL.String())
	if err := c.enqueue(link, ctx); err != nil {
		c.logger.Debug("link not followed", zap.String("url", link), zap.Error(err))
	}
}

func (c *Crawler) baseURI(req *colly.Request) *crawler.URI {
	uri := &crawler.URI{Location: req.URL.String()}
	if req.Ctx != nil {
		uri.Path = req.Ctx.Get(ctxPath)
		uri.ViaURL = req.Ctx.Get(ctxVia)
		if begin, ok := req.Ctx.GetAny(ctxFetchBegin).(int64); ok {
			uri.FetchBeginMs = begin
		}
	}
	uri.Seed = uri.ViaURL == ""
	return uri
}

func (c *Crawler) buildURI(r *colly.Response) *crawler.URI {
	uri := c.baseURI(r.Request)
	uri.Status = r.StatusCode

	var headers http.Header
	if r.Headers != nil {
		headers = *r.Headers
	}
	request := rawRequest(r.Request)
	response := rawResponse(r.StatusCode, headers, r.Body)
	uri.Size = int64(len(response))
	uri.CaptureRecord = crawler.NewMemoryRecorder(request, response, recordedCharset(headers.Get("Content-Type"), r.Body))
	return uri
}

// rawRequest renders the request line and headers as sent.
func rawRequest(req *colly.Request) []byte {
	var buf bytes.Buffer
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	fmt.Fprintf(&buf, "%s %s HTTP/1.1\r\nHost: %s\r\n", method, req.URL.RequestURI(), req.URL.Host)
	if req.Headers != nil {
		_ = req.Headers.Write(&buf)
	}
	buf.WriteString("\r\n")
	return buf.Bytes()
}

// rawResponse renders the status line, headers and body.
func rawResponse(status int, headers http.Header, body []byte) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "HTTP/1.1 %d %s\r\n", status, http.StatusText(status))
	_ = headers.Write(&buf)
	buf.WriteString("\r\n")
	buf.Write(body)
	return buf.Bytes()
}

// recordedCharset names the encoding of body as colly delivers it. Bodies
// with a declared charset have already been converted to UTF-8; otherwise
// the charset is sniffed from BOM, meta tags and content.
func recordedCharset(contentType string, body []byte) string {
	if strings.Contains(strings.ToLower(contentType), "charset") {
		return crawler.DefaultCharset
	}
	_, name, _ := charset.DetermineEncoding(body, contentType)
	// windows-1252 is the sniffer's fallback, reported even for plain ASCII.
	if name == "" || (name == "windows-1252" && utf8.Valid(body)) {
		return crawler.DefaultCharset
	}
	return name
}

func (c *Crawler) setFatal(err error) {
	c.fatalMu.Lock()
	defer c.fatalMu.Unlock()
	if c.fatalErr == nil {
		c.fatalErr = err
	}
}

func (c *Crawler) fatal() error {
	c.fatalMu.Lock()
	defer c.fatalMu.Unlock()
	return c.fatalErr
}
