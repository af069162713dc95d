package crawler

import "io"

// CrawlURI is the fetched resource handed to the sink by the crawler host.
// The sink never retains a CrawlURI past a single Process call.
type CrawlURI interface {
	URL() string
	// FetchStatus is the HTTP status code, or <= 0 when the fetch did not succeed.
	FetchStatus() int
	IsSeed() bool
	PathFromSeed() string
	Via() string
	// FetchBeginTime is the fetch start in epoch milliseconds.
	FetchBeginTime() int64
	ContentSize() int64
	Recorder() Recorder
	Annotate(annotation string)
	AddNonFatalFailure(err error)
}

// Recorder exposes the captured request and response bytes of a fetch.
type Recorder interface {
	// RecordedOutput is the capture of the request sent to the remote server.
	RecordedOutput() Recording
	// RecordedInput is the capture of the response read from the remote server.
	RecordedInput() ResponseRecording
	// Charset is the declared character set of the response.
	Charset() string
}

// Recording is a captured byte sequence that can be replayed any number of times.
type Recording interface {
	Size() int64
	// ReplayStream opens a fresh single-shot stream positioned at byte zero.
	ReplayStream() (ReplayStream, error)
}

// ResponseRecording is a Recording that knows where the response body begins.
type ResponseRecording interface {
	Recording
	ResponseReplayStream() (ResponseReplayStream, error)
}

// ReplayStream is a finite, single-shot view over recorded bytes.
type ReplayStream interface {
	io.ReadCloser
	Size() int64
}

// ResponseReplayStream can skip past the transport headers of a response.
type ResponseReplayStream interface {
	ReplayStream
	SeekToResponseBodyStart() error
}
