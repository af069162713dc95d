package crawler_test

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hiber-niu/heritrix-mongodb-writer/internal/crawler"
)

func TestBodyStart(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 19, crawler.BodyStart([]byte("HTTP/1.1 200 OK\r\n\r\nbody")))
	assert.Equal(t, 17, crawler.BodyStart([]byte("HTTP/1.1 200 OK\n\nbody")))
	assert.Zero(t, crawler.BodyStart([]byte("no terminator")))
}

func TestMemoryRecorderDefaults(t *testing.T) {
	t.Parallel()

	rec := crawler.NewMemoryRecorder(nil, []byte("HTTP/1.1 200 OK\r\n\r\nx"), "")
	assert.Equal(t, crawler.DefaultCharset, rec.Charset())
	assert.Zero(t, rec.RecordedOutput().Size())
	assert.Equal(t, int64(20), rec.RecordedInput().Size())
}

func TestReplayStreamsAreIndependent(t *testing.T) {
	t.Parallel()

	raw := []byte("HTTP/1.1 200 OK\r\n\r\n<html>")
	rec := crawler.NewMemoryRecording(raw, crawler.BodyStart(raw))

	first, err := rec.ReplayStream()
	require.NoError(t, err)
	all, err := io.ReadAll(first)
	require.NoError(t, err)
	assert.Equal(t, raw, all)
	assert.Equal(t, int64(len(raw)), first.Size())

	second, err := rec.ResponseReplayStream()
	require.NoError(t, err)
	require.NoError(t, second.SeekToResponseBodyStart())
	body, err := io.ReadAll(second)
	require.NoError(t, err)
	assert.Equal(t, "<html>", string(body))

	assert.Equal(t, 2, rec.Opened())
	assert.Equal(t, 2, rec.OpenStreams())
	require.NoError(t, first.Close())
	require.NoError(t, first.Close())
	require.NoError(t, second.Close())
	assert.Zero(t, rec.OpenStreams())

	_, err = first.Read(make([]byte, 1))
	assert.ErrorIs(t, err, crawler.ErrStreamClosed)
	assert.ErrorIs(t, second.SeekToResponseBodyStart(), crawler.ErrStreamClosed)
}

func TestRecordingFailures(t *testing.T) {
	t.Parallel()

	rec := crawler.NewMemoryRecording([]byte("data"), 0)
	rec.FailOpen = errors.New("gone")
	_, err := rec.ReplayStream()
	require.Error(t, err)
	assert.Zero(t, rec.Opened())

	rec = crawler.NewMemoryRecording([]byte("data"), 99)
	rec.FailRead = io.ErrUnexpectedEOF
	stream, err := rec.ResponseReplayStream()
	require.NoError(t, err)
	_, err = stream.Read(make([]byte, 4))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	require.NoError(t, stream.SeekToResponseBodyStart())
}

func TestURIAnnotationsAndFailures(t *testing.T) {
	t.Parallel()

	uri := &crawler.URI{Location: " http://example.com/ "}
	uri.Annotate("unwritten:size")
	uri.AddNonFatalFailure(nil)
	uri.AddNonFatalFailure(errors.New("boom"))

	assert.True(t, uri.HasAnnotation("unwritten:size"))
	assert.False(t, uri.HasAnnotation("unwritten"))
	assert.Len(t, uri.NonFatalFailures(), 1)
	assert.Equal(t, "http://example.com/", uri.String())

	var _ crawler.CrawlURI = uri
}
