package mongodb

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/hiber-niu/heritrix-mongodb-writer/internal/crawler"
)

const closeTimeout = 10 * time.Second

// Writer owns one store handle and turns crawl records into documents.
// A Writer is not safe for concurrent use; the pool hands it to one caller at a time.
type Writer struct {
	params     *Parameters
	serial     int64
	store      Store
	connectErr error
	logger     *zap.Logger

	position  atomic.Int64
	closeOnce sync.Once
	closeErr  error
}

// NewWriter connects a writer to the configured collection. Unset host,
// database or collection is returned as ErrConfigUnset. Any other connection
// failure is logged and leaves the writer degraded: Write then fails with
// ErrStoreUnavailable.
func NewWriter(ctx context.Context, params *Parameters, serial int64, connector Connector, logger *zap.Logger) (*Writer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if connector == nil {
		connector = MongoConnector{}
	}
	for _, get := range []func() (string, error){params.Host, params.Database, params.Collection} {
		if _, err := get(); err != nil {
			return nil, err
		}
	}

	w := &Writer{
		params: params,
		serial: serial,
		logger: logger.Named("writer").With(zap.Int64("serial", serial)),
	}
	store, err := connector.Connect(ctx, params)
	if err != nil {
		if errors.Is(err, ErrConfigUnset) {
			return nil, err
		}
		addr, _ := params.Address()
		w.logger.Error("mongodb connection failed; writer is unusable",
			zap.String("address", addr),
			zap.Bool("auth", params.User() != ""),
			zap.Error(err),
		)
		w.connectErr = err
		return w, nil
	}
	w.store = store
	return w, nil
}

// Serial returns the pool-wide serial number of this writer.
func (w *Writer) Serial() int64 { return w.serial }

// Position returns the number of document bytes this writer has persisted.
func (w *Writer) Position() int64 { return w.position.Load() }

// Available reports whether the writer holds a usable store handle.
func (w *Writer) Available() bool { return w.store != nil }

// Serialize applies the configured byte transform.
func (w *Writer) Serialize(b []byte) []byte {
	return serialize(w.params.Serializer(), b)
}

// Write shapes one document from uri and its captures and inserts it.
// It reports whether a document was inserted; missing pages and oversize
// payloads are skipped without an error.
func (w *Writer) Write(
	ctx context.Context,
	uri crawler.CrawlURI,
	ip string,
	request crawler.Recording,
	response crawler.ResponseRecording,
) (bool, error) {
	p := w.params
	if p.RemoveMissingPages() && isMissingPage(uri.FetchStatus()) {
		return false, nil
	}
	if w.store == nil {
		return false, fmt.Errorf("%w: %w", ErrStoreUnavailable, w.connectErr)
	}

	url := uri.URL()
	doc := Document{
		p.FieldName(FieldURL): url,
		p.FieldName(FieldIP):  ip,
	}
	if uri.IsSeed() {
		doc[p.FieldName(FieldIsSeed)] = true
	}
	if path := strings.TrimSpace(uri.PathFromSeed()); path != "" {
		doc[p.FieldName(FieldPathFromSeed)] = path
	}
	if via := strings.TrimSpace(uri.Via()); via != "" {
		doc[p.FieldName(FieldVia)] = via
	}
	if zone := p.TimeZone(); zone != "" {
		processedAt, err := FormatProcessedAt(uri.FetchBeginTime(), zone)
		if err != nil {
			w.logger.Warn("omitting processed-at field", zap.String("url", url), zap.Error(err))
		} else {
			doc[p.FieldName(FieldProcessedAt)] = processedAt
		}
	}

	charset := crawler.DefaultCharset
	if rec := uri.Recorder(); rec != nil && rec.Charset() != "" {
		charset = rec.Charset()
	}

	if request != nil && request.Size() > 0 {
		crawlRequest, err := w.readRecording(request.ReplayStream, charset)
		if err != nil {
			return false, fmt.Errorf("read request of %s: %w", url, err)
		}
		doc[p.FieldName(FieldRequest)] = crawlRequest
	}

	if response == nil {
		return false, fmt.Errorf("%w: no response recording for %s", ErrStreamIO, url)
	}
	payload, err := w.readResponse(response, charset)
	if err != nil {
		return false, fmt.Errorf("read response of %s: %w", url, err)
	}
	if p.SeparateHeaders() {
		if headers, body, ok := SplitHeaders(payload); ok {
			doc[p.FieldName(FieldHeaders)] = headers
			payload = body
		}
	}
	if limit := p.MaxContentSizeBytes(); limit > 0 && utf8.RuneCountInString(payload) > limit {
		w.logger.Warn("skipping write: payload exceeds max content size",
			zap.String("url", url),
			zap.Int("max_size", limit),
		)
		return false, nil
	}
	if s := p.Serializer(); s != nil {
		doc[p.FieldName(FieldRawData)] = s.Serialize([]byte(payload))
	} else {
		doc[p.FieldName(FieldRawData)] = payload
	}

	raw, err := encodeDocument(doc)
	if err != nil {
		return false, fmt.Errorf("%w: %s: %w", ErrStoreWrite, url, err)
	}
	if err := w.store.InsertOne(ctx, raw); err != nil {
		return false, fmt.Errorf("%w: %s: %w", ErrStoreWrite, url, err)
	}
	w.position.Add(int64(len(raw)))
	return true, nil
}

// readResponse reads the whole response, then reopens it at the body start so
// the capture is left positioned for later consumers. Both streams are closed
// before returning.
func (w *Writer) readResponse(response crawler.ResponseRecording, charset string) (string, error) {
	decoded, err := w.readRecording(response.ReplayStream, charset)
	if err != nil {
		return "", err
	}
	stream, err := response.ResponseReplayStream()
	if err != nil {
		return "", fmt.Errorf("%w: reopen response: %w", ErrStreamIO, err)
	}
	defer w.closeStream(stream)
	if err := stream.SeekToResponseBodyStart(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrStreamIO, err)
	}
	return decoded, nil
}

func (w *Writer) readRecording(open func() (crawler.ReplayStream, error), charset string) (string, error) {
	stream, err := open()
	if err != nil {
		return "", fmt.Errorf("%w: open: %w", ErrStreamIO, err)
	}
	defer w.closeStream(stream)

	size := stream.Size()
	if size < 0 {
		size = 0
	}
	buf := bytes.NewBuffer(make([]byte, 0, size))
	if _, err := io.Copy(buf, stream); err != nil {
		return "", fmt.Errorf("%w: read: %w", ErrStreamIO, err)
	}
	return w.decode(buf.Bytes(), charset), nil
}

// decode interprets raw in the recorder's charset. Unknown charsets fall
// back to the raw bytes.
func (w *Writer) decode(raw []byte, charset string) string {
	if charset == "" || strings.EqualFold(charset, "utf-8") || strings.EqualFold(charset, "utf8") {
		return string(raw)
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		w.logger.Debug("unknown charset; keeping raw bytes", zap.String("charset", charset))
		return string(raw)
	}
	out, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		w.logger.Debug("charset decode failed; keeping raw bytes", zap.String("charset", charset), zap.Error(err))
		return string(raw)
	}
	return string(out)
}

func (w *Writer) closeStream(c io.Closer) {
	if c == nil {
		return
	}
	if err := c.Close(); err != nil {
		w.logger.Warn("closing replay stream failed", zap.Error(err))
	}
}

// Close disconnects the store handle. It is safe to call more than once.
func (w *Writer) Close() error {
	w.closeOnce.Do(func() {
		if w.store == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		w.closeErr = w.store.Close(ctx)
	})
	return w.closeErr
}

func isMissingPage(status int) bool {
	return status == http.StatusNotFound || status == http.StatusGone
}
