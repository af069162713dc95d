package collyfetcher

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/hiber-niu/heritrix-mongodb-writer/internal/crawler"
	"github.com/hiber-niu/heritrix-mongodb-writer/internal/processor"
)

// AnnotationDuplicate marks URIs whose payload matched an earlier capture.
const AnnotationDuplicate = "duplicate:digest"

// DefaultDigestCapacity bounds how many payload digests are remembered for
// duplicate detection. Older digests are evicted least-recently-used first,
// so a payload seen again after eviction is written once more.
const DefaultDigestCapacity = 100_000

// Host is the processor.Host the colly crawler plugs into the processor.
// It suppresses writes for excluded domains and for payloads already seen
// under another URL, and reports the peer IP recorded by the transport.
type Host struct {
	processor.DefaultHost

	skipWrite *domainSet
	addrs     *addressBook

	mu      sync.Mutex
	digests map[string]string // url → payload digest
	firsts  *lru.Cache[string, string] // payload digest → first url
}

// NewHost builds a Host. skipWriteDomains uses the same pattern syntax as
// allowed domains, plus "*.suffix" wildcards. digestCapacity caps the
// duplicate-detection memory; zero or less uses DefaultDigestCapacity.
func NewHost(skipWriteDomains []string, digestCapacity int) *Host {
	if digestCapacity <= 0 {
		digestCapacity = DefaultDigestCapacity
	}
	firsts, err := lru.New[string, string](digestCapacity)
	if err != nil {
		// Only a non-positive size fails, which is ruled out above.
		panic(err)
	}
	return &Host{
		skipWrite: newDomainSet(skipWriteDomains),
		addrs:     &addressBook{},
		digests:   make(map[string]string),
		firsts:    firsts,
	}
}

// RecordPayload remembers the digest of the payload fetched for rawURL.
func (h *Host) RecordPayload(rawURL string, payload []byte) {
	sum := sha256.Sum256(payload)
	digest := hex.EncodeToString(sum[:])
	h.mu.Lock()
	defer h.mu.Unlock()
	h.digests[rawURL] = digest
	h.firsts.ContainsOrAdd(digest, rawURL)
}

// Forget drops per-URL state once the processor is done with a URI.
func (h *Host) Forget(rawURL string) {
	h.mu.Lock()
	delete(h.digests, rawURL)
	h.mu.Unlock()
	h.addrs.take(rawURL)
}

// ShouldWrite rejects excluded domains and duplicate payloads.
func (h *Host) ShouldWrite(uri crawler.CrawlURI) bool {
	if u, err := url.Parse(uri.URL()); err == nil && h.skipWrite.Contains(u.Host) {
		return false
	}
	return !h.isDuplicate(uri.URL())
}

// HostAddress returns the recorded peer IP, falling back to an IP literal host.
func (h *Host) HostAddress(uri crawler.CrawlURI) string {
	if v, ok := h.addrs.addrs.Load(uri.URL()); ok {
		return v.(string)
	}
	return h.DefaultHost.HostAddress(uri)
}

// CopyForwardWriteTagIfDupe annotates duplicates so downstream consumers can
// tell them apart from other unwritten URIs.
func (h *Host) CopyForwardWriteTagIfDupe(uri crawler.CrawlURI) {
	if h.isDuplicate(uri.URL()) {
		uri.Annotate(AnnotationDuplicate)
	}
}

func (h *Host) isDuplicate(rawURL string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	digest, ok := h.digests[rawURL]
	if !ok {
		return false
	}
	first, ok := h.firsts.Get(digest)
	return ok && first != rawURL
}
