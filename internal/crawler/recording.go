package crawler

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
)

// ErrStreamClosed is returned when reading from a replay stream after Close.
var ErrStreamClosed = errors.New("replay stream closed")

// DefaultCharset is assumed when a fetch did not declare one.
const DefaultCharset = "UTF-8"

// MemoryRecorder is a Recorder over in-memory captures.
type MemoryRecorder struct {
	Request     *MemoryRecording
	Response    *MemoryRecording
	CharsetName string
}

// NewMemoryRecorder builds a recorder from raw request and response bytes.
// The response body start is located after the first blank line.
func NewMemoryRecorder(request, response []byte, charset string) *MemoryRecorder {
	if charset == "" {
		charset = DefaultCharset
	}
	return &MemoryRecorder{
		Request:     NewMemoryRecording(request, 0),
		Response:    NewMemoryRecording(response, BodyStart(response)),
		CharsetName: charset,
	}
}

// RecordedOutput returns the request capture.
func (r *MemoryRecorder) RecordedOutput() Recording { return r.Request }

// RecordedInput returns the response capture.
func (r *MemoryRecorder) RecordedInput() ResponseRecording { return r.Response }

// Charset returns the declared charset.
func (r *MemoryRecorder) Charset() string { return r.CharsetName }

// BodyStart returns the offset right after the header terminator, or 0 if none.
func BodyStart(raw []byte) int {
	if i := bytes.Index(raw, []byte("\r\n\r\n")); i >= 0 {
		return i + 4
	}
	if i := bytes.Index(raw, []byte("\n\n")); i >= 0 {
		return i + 2
	}
	return 0
}

// MemoryRecording replays a fixed byte slice. It tracks open streams so
// callers can verify that every stream they opened was closed.
type MemoryRecording struct {
	data      []byte
	bodyStart int

	// FailOpen, when set, is returned by every attempt to open a stream.
	FailOpen error
	// FailRead, when set, is returned by Read on every opened stream.
	FailRead error

	mu     sync.Mutex
	opened int
	open   int
}

// NewMemoryRecording copies data and remembers where the body begins.
func NewMemoryRecording(data []byte, bodyStart int) *MemoryRecording {
	if bodyStart < 0 || bodyStart > len(data) {
		bodyStart = 0
	}
	return &MemoryRecording{
		data:      append([]byte(nil), data...),
		bodyStart: bodyStart,
	}
}

// Size returns the number of recorded bytes.
func (m *MemoryRecording) Size() int64 {
	if m == nil {
		return 0
	}
	return int64(len(m.data))
}

// ReplayStream opens a fresh stream at offset zero.
func (m *MemoryRecording) ReplayStream() (ReplayStream, error) {
	return m.ResponseReplayStream()
}

// ResponseReplayStream opens a fresh stream that can seek to the body start.
func (m *MemoryRecording) ResponseReplayStream() (ResponseReplayStream, error) {
	if m.FailOpen != nil {
		return nil, fmt.Errorf("open replay stream: %w", m.FailOpen)
	}
	m.mu.Lock()
	m.opened++
	m.open++
	m.mu.Unlock()
	return &memoryStream{
		owner:  m,
		reader: bytes.NewReader(m.data),
	}, nil
}

// Opened returns the total number of streams opened so far.
func (m *MemoryRecording) Opened() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opened
}

// OpenStreams returns the number of streams opened but not yet closed.
func (m *MemoryRecording) OpenStreams() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open
}

type memoryStream struct {
	owner  *MemoryRecording
	reader *bytes.Reader
	closed bool
}

func (s *memoryStream) Read(p []byte) (int, error) {
	if s.closed {
		return 0, ErrStreamClosed
	}
	if s.owner.FailRead != nil {
		return 0, s.owner.FailRead
	}
	return s.reader.Read(p)
}

func (s *memoryStream) Size() int64 {
	return s.reader.Size()
}

func (s *memoryStream) SeekToResponseBodyStart() error {
	if s.closed {
		return ErrStreamClosed
	}
	if _, err := s.reader.Seek(int64(s.owner.bodyStart), io.SeekStart); err != nil {
		return fmt.Errorf("seek to body start: %w", err)
	}
	return nil
}

func (s *memoryStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.owner.mu.Lock()
	s.owner.open--
	s.owner.mu.Unlock()
	return nil
}
