// Package crawler defines the contract between the crawler host and the sink.
package crawler

import (
	"strings"
	"sync"
)

// ProcessResult tells the host pipeline how to continue after a processor ran.
type ProcessResult string

// ProcessResultProceed lets the host continue with the next processor.
const ProcessResultProceed ProcessResult = "proceed"

// AnnotationUnwritten prefixes annotations explaining why a URI was not written.
const AnnotationUnwritten = "unwritten"

// URI is a concrete CrawlURI used by the bundled hosts and tests.
type URI struct {
	Location      string
	Status        int
	Seed          bool
	Path          string
	ViaURL        string
	FetchBeginMs  int64
	Size          int64
	CaptureRecord Recorder

	mu          sync.Mutex
	annotations []string
	failures    []error
}

// URL returns the fetched location.
func (u *URI) URL() string { return u.Location }

// FetchStatus returns the HTTP status code.
func (u *URI) FetchStatus() int { return u.Status }

// IsSeed reports whether the URI was one of the crawl seeds.
func (u *URI) IsSeed() bool { return u.Seed }

// PathFromSeed returns the hop path from the seed (e.g. "LLE").
func (u *URI) PathFromSeed() string { return u.Path }

// Via returns the URL that linked to this one.
func (u *URI) Via() string { return u.ViaURL }

// FetchBeginTime returns the fetch start in epoch milliseconds.
func (u *URI) FetchBeginTime() int64 { return u.FetchBeginMs }

// ContentSize returns the number of recorded response bytes.
func (u *URI) ContentSize() int64 { return u.Size }

// Recorder returns the capture of the fetch.
func (u *URI) Recorder() Recorder { return u.CaptureRecord }

// Annotate attaches a free-form annotation.
func (u *URI) Annotate(annotation string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.annotations = append(u.annotations, annotation)
}

// AddNonFatalFailure records a failure that did not stop the pipeline.
func (u *URI) AddNonFatalFailure(err error) {
	if err == nil {
		return
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.failures = append(u.failures, err)
}

// Annotations returns a copy of the annotations.
func (u *URI) Annotations() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.annotations...)
}

// HasAnnotation reports whether the exact annotation is present.
func (u *URI) HasAnnotation(annotation string) bool {
	for _, a := range u.Annotations() {
		if a == annotation {
			return true
		}
	}
	return false
}

// NonFatalFailures returns a copy of the recorded failures.
func (u *URI) NonFatalFailures() []error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]error(nil), u.failures...)
}

// String implements fmt.Stringer.
func (u *URI) String() string {
	return strings.TrimSpace(u.Location)
}
