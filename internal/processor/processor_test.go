package processor_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/hiber-niu/heritrix-mongodb-writer/internal/crawler"
	"github.com/hiber-niu/heritrix-mongodb-writer/internal/mongodb"
	"github.com/hiber-niu/heritrix-mongodb-writer/internal/processor"
)

const page = "HTTP/1.1 200 OK\r\nContent-Type: text/html\r\n\r\n<!DOCTYPE html><p>hello</p>"

type fakeHost struct {
	processor.DefaultHost
	rejectProcess bool
	rejectWrite   bool

	mu         sync.Mutex
	copyCalled int
}

func (h *fakeHost) ShouldProcess(crawler.CrawlURI) bool { return !h.rejectProcess }
func (h *fakeHost) ShouldWrite(crawler.CrawlURI) bool   { return !h.rejectWrite }
func (h *fakeHost) CopyForwardWriteTagIfDupe(crawler.CrawlURI) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.copyCalled++
}

type fakeObserver struct {
	mu       sync.Mutex
	writes   map[string]int64
	skips    map[string]int
	failures map[string]int
}

func newObserver() *fakeObserver {
	return &fakeObserver{writes: map[string]int64{}, skips: map[string]int{}, failures: map[string]int{}}
}

func (o *fakeObserver) ObserveWrite(site string, bytes int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.writes[site] += bytes
}

func (o *fakeObserver) ObserveSkip(reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.skips[reason]++
}

func (o *fakeObserver) ObserveFailure(kind string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failures[kind]++
}

type fixture struct {
	proc      *processor.Processor
	store     *mongodb.MockStore
	connector *mongodb.MockConnector
	observer  *fakeObserver
	params    *mongodb.Parameters
}

func newParams(t *testing.T) *mongodb.Parameters {
	t.Helper()
	params := mongodb.NewParameters()
	require.NoError(t, params.SetHost("localhost"))
	require.NoError(t, params.SetDatabase("crawl"))
	require.NoError(t, params.SetCollection("pages"))
	return params
}

func newFixture(t *testing.T, cfg processor.Config, host processor.Host, params *mongodb.Parameters) *fixture {
	t.Helper()
	if params == nil {
		params = newParams(t)
	}
	store := new(mongodb.MockStore)
	store.On("Close", mock.Anything).Return(nil).Maybe()
	connector := new(mongodb.MockConnector)
	connector.On("Connect", mock.Anything, mock.Anything).Return(store, nil).Maybe()
	obs := newObserver()

	proc, err := processor.New(params, cfg, host, connector, obs, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = proc.Close() })
	return &fixture{proc: proc, store: store, connector: connector, observer: obs, params: params}
}

func (f *fixture) acceptInserts() {
	f.store.On("InsertOne", mock.Anything, mock.Anything).Return(nil)
}

func newURI(location string, status int, response string) *crawler.URI {
	return &crawler.URI{
		Location:      location,
		Status:        status,
		Size:          int64(len(response)),
		CaptureRecord: crawler.NewMemoryRecorder(nil, []byte(response), ""),
	}
}

func TestNewRequiresParameters(t *testing.T) {
	t.Parallel()

	_, err := processor.New(nil, processor.Config{}, nil, nil, nil, nil)
	assert.Error(t, err)
}

func TestSetupPoolFreezesParameters(t *testing.T) {
	t.Parallel()

	f := newFixture(t, processor.Config{}, nil, nil)
	require.NoError(t, f.proc.SetupPool(nil))
	assert.True(t, f.params.Frozen())
	assert.ErrorIs(t, f.params.SetHost("elsewhere"), mongodb.ErrParametersFrozen)
	assert.Error(t, f.proc.SetupPool(nil))
}

func TestReadyTracksPoolLifecycle(t *testing.T) {
	t.Parallel()

	f := newFixture(t, processor.Config{}, nil, nil)
	assert.False(t, f.proc.Ready())
	require.NoError(t, f.proc.SetupPool(nil))
	assert.True(t, f.proc.Ready())
	require.NoError(t, f.proc.Close())
	assert.False(t, f.proc.Ready())
}

func TestProcessAdmission(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		host   *fakeHost
		uri    *crawler.URI
		reason string
	}{
		{
			name:   "host rejects",
			host:   &fakeHost{rejectProcess: true},
			uri:    newURI("http://example.com/", 200, page),
			reason: processor.SkipHostRejected,
		},
		{
			name:   "fetch failed",
			host:   &fakeHost{},
			uri:    newURI("http://example.com/", -1, page),
			reason: processor.SkipFetchFailed,
		},
		{
			name:   "no content",
			host:   &fakeHost{},
			uri:    newURI("http://example.com/", 200, ""),
			reason: processor.SkipEmpty,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, processor.Config{}, tt.host, nil)
			require.NoError(t, f.proc.SetupPool(nil))

			result, err := f.proc.Process(context.Background(), tt.uri)
			require.NoError(t, err)
			assert.Equal(t, crawler.ProcessResultProceed, result)
			assert.Equal(t, 1, f.observer.skips[tt.reason])
			assert.Zero(t, f.proc.URLsWritten())
			f.connector.AssertNotCalled(t, "Connect", mock.Anything, mock.Anything)
		})
	}
}

func TestShouldWriteRejectedByHost(t *testing.T) {
	t.Parallel()

	host := &fakeHost{rejectWrite: true}
	f := newFixture(t, processor.Config{}, host, nil)
	require.NoError(t, f.proc.SetupPool(nil))

	_, err := f.proc.Process(context.Background(), newURI("http://example.com/", 200, page))
	require.NoError(t, err)
	assert.Equal(t, 1, host.copyCalled)
	assert.Equal(t, 1, f.observer.skips[processor.SkipNotWritten])
	f.store.AssertNotCalled(t, "InsertOne", mock.Anything, mock.Anything)
}

func TestShouldWriteSizeGate(t *testing.T) {
	t.Parallel()

	host := &fakeHost{}
	f := newFixture(t, processor.Config{MaxFileSizeBytes: 10}, host, nil)
	require.NoError(t, f.proc.SetupPool(nil))
	uri := newURI("http://example.com/", 200, page)

	result, err := f.proc.Process(context.Background(), uri)
	require.NoError(t, err)
	assert.Equal(t, crawler.ProcessResultProceed, result)
	assert.True(t, uri.HasAnnotation("unwritten:size"))
	assert.Equal(t, 1, host.copyCalled)
	assert.Equal(t, 1, f.observer.skips[processor.SkipSize])
	f.store.AssertNotCalled(t, "InsertOne", mock.Anything, mock.Anything)
}

func TestMaxFileSizeFallsBackToContentCap(t *testing.T) {
	t.Parallel()

	f := newFixture(t, processor.Config{}, nil, nil)
	assert.Equal(t, int64(mongodb.DefaultMaxContentSizeBytes), f.proc.MaxFileSizeBytes())

	f = newFixture(t, processor.Config{MaxFileSizeBytes: 42}, nil, nil)
	assert.Equal(t, int64(42), f.proc.MaxFileSizeBytes())

	params := newParams(t)
	require.NoError(t, params.SetMaxContentSizeBytes(0))
	f = newFixture(t, processor.Config{}, nil, params)
	f.acceptInserts()
	require.NoError(t, f.proc.SetupPool(nil))
	assert.True(t, f.proc.ShouldWrite(newURI("http://example.com/", 200, page)))
}

func TestProcessWritesAndCounts(t *testing.T) {
	t.Parallel()

	f := newFixture(t, processor.Config{PoolMaxActive: 2}, nil, nil)
	var docs []mongodb.Document
	var mu sync.Mutex
	f.store.On("InsertOne", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		mu.Lock()
		defer mu.Unlock()
		var doc mongodb.Document
		assert.NoError(t, bson.Unmarshal(args.Get(1).(bson.Raw), &doc))
		docs = append(docs, doc)
	}).Return(nil)
	require.NoError(t, f.proc.SetupPool(nil))

	uris := []*crawler.URI{
		newURI("http://10.1.2.3/a", 200, page),
		newURI("http://Example.com/b", 200, page),
		newURI("http://example.com/c", 200, page),
	}
	for _, uri := range uris {
		result, err := f.proc.Process(context.Background(), uri)
		require.NoError(t, err)
		assert.Equal(t, crawler.ProcessResultProceed, result)
		assert.Empty(t, uri.NonFatalFailures())
	}

	require.Len(t, docs, 3)
	assert.Equal(t, "10.1.2.3", docs[0]["curi:ip"])
	assert.Equal(t, "", docs[1]["curi:ip"])

	assert.Equal(t, int64(3), f.proc.URLsWritten())
	stats := f.proc.Stats()
	assert.Equal(t, int64(3), stats.Get(processor.BucketTotals, processor.KeyNumDocuments))
	assert.Equal(t, int64(2), stats.Get("example.com", processor.KeyNumDocuments))
	assert.Equal(t, int64(1), stats.Get("10.1.2.3", processor.KeyNumDocuments))
	assert.Equal(t, 3*int64(len(page)), stats.Get(processor.BucketTotals, processor.KeyContentBytes))

	onDisk := stats.Get(processor.BucketTotals, processor.KeySizeOnDisk)
	assert.Positive(t, onDisk)
	assert.Equal(t, onDisk, f.proc.TotalBytesWritten())
	assert.Equal(t, onDisk, f.observer.writes["example.com"]+f.observer.writes["10.1.2.3"])

	poolStats := f.proc.PoolStats()
	assert.Equal(t, int64(1), poolStats.Created)
	assert.Equal(t, 1, poolStats.Idle)
	assert.Zero(t, poolStats.CheckedOut)
}

func TestProcessConcurrentCallersKeepCounters(t *testing.T) {
	t.Parallel()

	const callers = 64
	f := newFixture(t, processor.Config{PoolMaxActive: 3, MaxWaitForIdle: 10 * time.Second}, nil, nil)
	var inFlight, peak atomic.Int64
	f.store.On("InsertOne", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		n := inFlight.Add(1)
		for {
			cur := peak.Load()
			if n <= cur || peak.CompareAndSwap(cur, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		inFlight.Add(-1)
	}).Return(nil)
	require.NoError(t, f.proc.SetupPool(nil))

	var wg sync.WaitGroup
	uris := make([]*crawler.URI, callers)
	for i := range callers {
		uris[i] = newURI(fmt.Sprintf("http://example.com/%d", i), 200, page)
		wg.Add(1)
		go func(uri *crawler.URI) {
			defer wg.Done()
			_, err := f.proc.Process(context.Background(), uri)
			assert.NoError(t, err)
		}(uris[i])
	}
	wg.Wait()

	for _, uri := range uris {
		assert.Empty(t, uri.NonFatalFailures())
	}
	assert.Equal(t, int64(callers), f.proc.URLsWritten())
	f.store.AssertNumberOfCalls(t, "InsertOne", callers)
	stats := f.proc.Stats()
	assert.Equal(t, int64(callers), stats.Get(processor.BucketTotals, processor.KeyNumDocuments))
	assert.Equal(t, stats.Get(processor.BucketTotals, processor.KeySizeOnDisk), f.proc.TotalBytesWritten())
	assert.Equal(t, f.proc.TotalBytesWritten(), f.observer.writes["example.com"])
	assert.LessOrEqual(t, peak.Load(), int64(3))
	assert.LessOrEqual(t, f.proc.PoolStats().Created, int64(3))
	assert.Zero(t, f.proc.PoolStats().CheckedOut)
}

func TestProcessMissingPageLeavesCountersUnchanged(t *testing.T) {
	t.Parallel()

	f := newFixture(t, processor.Config{}, nil, nil)
	require.NoError(t, f.proc.SetupPool(nil))

	result, err := f.proc.Process(context.Background(), newURI("http://example.com/gone", 404, page))
	require.NoError(t, err)
	assert.Equal(t, crawler.ProcessResultProceed, result)
	assert.Zero(t, f.proc.URLsWritten())
	assert.Zero(t, f.proc.TotalBytesWritten())
	assert.Empty(t, f.proc.StatsSnapshot())
	f.store.AssertNotCalled(t, "InsertOne", mock.Anything, mock.Anything)
}

func TestProcessInsertFailureIsNonFatal(t *testing.T) {
	t.Parallel()

	f := newFixture(t, processor.Config{}, nil, nil)
	f.store.On("InsertOne", mock.Anything, mock.Anything).Return(errors.New("E11000 duplicate key"))
	require.NoError(t, f.proc.SetupPool(nil))
	uri := newURI("http://example.com/", 200, page)

	result, err := f.proc.Process(context.Background(), uri)
	require.NoError(t, err)
	assert.Equal(t, crawler.ProcessResultProceed, result)
	require.Len(t, uri.NonFatalFailures(), 1)
	assert.ErrorIs(t, uri.NonFatalFailures()[0], mongodb.ErrStoreWrite)
	assert.Equal(t, 1, f.observer.failures["store_write"])
	assert.Zero(t, f.proc.URLsWritten())
	assert.Equal(t, 1, f.proc.PoolStats().Idle)
}

func TestProcessConfigUnsetPropagates(t *testing.T) {
	t.Parallel()

	params := mongodb.NewParameters()
	require.NoError(t, params.SetHost("localhost"))
	f := newFixture(t, processor.Config{}, nil, params)
	require.NoError(t, f.proc.SetupPool(nil))
	uri := newURI("http://example.com/", 200, page)

	result, err := f.proc.Process(context.Background(), uri)
	require.ErrorIs(t, err, mongodb.ErrConfigUnset)
	assert.Equal(t, crawler.ProcessResultProceed, result)
	assert.Empty(t, uri.NonFatalFailures())
}

func TestProcessDegradedWriterIsReplaced(t *testing.T) {
	t.Parallel()

	connector := new(mongodb.MockConnector)
	connector.On("Connect", mock.Anything, mock.Anything).Return(nil, errors.New("auth failed"))
	obs := newObserver()
	proc, err := processor.New(newParams(t), processor.Config{}, nil, connector, obs, nil)
	require.NoError(t, err)
	require.NoError(t, proc.SetupPool(nil))

	for range 2 {
		uri := newURI("http://example.com/", 200, page)
		_, err := proc.Process(context.Background(), uri)
		require.NoError(t, err)
		require.Len(t, uri.NonFatalFailures(), 1)
		assert.ErrorIs(t, uri.NonFatalFailures()[0], mongodb.ErrStoreUnavailable)
	}
	assert.Equal(t, 2, obs.failures["store_unavailable"])
	assert.Equal(t, int64(2), proc.PoolStats().Created)
	assert.Zero(t, proc.PoolStats().Idle)
	connector.AssertNumberOfCalls(t, "Connect", 2)
}

func TestProcessPoolExhaustedIsNonFatal(t *testing.T) {
	t.Parallel()

	f := newFixture(t, processor.Config{PoolMaxActive: 1, MaxWaitForIdle: 10 * time.Millisecond}, nil, nil)
	started := make(chan struct{})
	release := make(chan struct{})
	f.store.On("InsertOne", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		close(started)
		<-release
	}).Return(nil).Once()
	require.NoError(t, f.proc.SetupPool(nil))

	done := make(chan error, 1)
	go func() {
		_, err := f.proc.Process(context.Background(), newURI("http://example.com/slow", 200, page))
		done <- err
	}()
	<-started

	uri := newURI("http://example.com/fast", 200, page)
	result, err := f.proc.Process(context.Background(), uri)
	require.NoError(t, err)
	assert.Equal(t, crawler.ProcessResultProceed, result)
	require.Len(t, uri.NonFatalFailures(), 1)
	assert.Equal(t, 1, f.observer.failures["pool_exhausted"])

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, int64(1), f.proc.URLsWritten())
}

func TestProcessCancelledContext(t *testing.T) {
	t.Parallel()

	f := newFixture(t, processor.Config{PoolMaxActive: 1, MaxWaitForIdle: time.Minute}, nil, nil)
	started := make(chan struct{})
	release := make(chan struct{})
	f.store.On("InsertOne", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		close(started)
		<-release
	}).Return(nil).Once()
	require.NoError(t, f.proc.SetupPool(nil))

	go func() {
		_, _ = f.proc.Process(context.Background(), newURI("http://example.com/slow", 200, page))
	}()
	<-started
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	uri := newURI("http://example.com/later", 200, page)
	_, err := f.proc.Process(ctx, uri)
	require.NoError(t, err)
	assert.Empty(t, uri.NonFatalFailures())
}

func TestProcessWithoutPool(t *testing.T) {
	t.Parallel()

	f := newFixture(t, processor.Config{}, nil, nil)
	uri := newURI("http://example.com/", 200, page)

	_, err := f.proc.Process(context.Background(), uri)
	require.NoError(t, err)
	assert.Len(t, uri.NonFatalFailures(), 1)
	assert.Equal(t, 1, f.observer.failures["other"])
	assert.Equal(t, 0, f.proc.PoolStats().MaxActive)
}
