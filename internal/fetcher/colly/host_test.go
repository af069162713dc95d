package collyfetcher

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hiber-niu/heritrix-mongodb-writer/internal/crawler"
)

func TestHostSkipsExcludedDomains(t *testing.T) {
	t.Parallel()

	host := NewHost([]string{"*.ads.example"}, 0)
	assert.False(t, host.ShouldWrite(&crawler.URI{Location: "https://cdn.ads.example/banner"}))
	assert.True(t, host.ShouldWrite(&crawler.URI{Location: "https://example.com/"}))
	assert.True(t, host.ShouldProcess(&crawler.URI{Location: "https://cdn.ads.example/banner"}))
}

func TestHostSuppressesDuplicatePayloads(t *testing.T) {
	t.Parallel()

	host := NewHost(nil, 0)
	first := &crawler.URI{Location: "https://example.com/a"}
	second := &crawler.URI{Location: "https://example.com/b"}
	host.RecordPayload(first.URL(), []byte("same body"))
	host.RecordPayload(second.URL(), []byte("same body"))

	assert.True(t, host.ShouldWrite(first))
	assert.False(t, host.ShouldWrite(second))

	host.CopyForwardWriteTagIfDupe(second)
	assert.True(t, second.HasAnnotation(AnnotationDuplicate))
	host.CopyForwardWriteTagIfDupe(first)
	assert.False(t, first.HasAnnotation(AnnotationDuplicate))

	host.Forget(second.URL())
	assert.True(t, host.ShouldWrite(second))
}

func TestHostDigestMemoryIsBounded(t *testing.T) {
	t.Parallel()

	host := NewHost(nil, 2)
	first := &crawler.URI{Location: "https://example.com/a"}
	host.RecordPayload(first.URL(), []byte("body a"))
	host.RecordPayload("https://example.com/b", []byte("body b"))
	host.RecordPayload("https://example.com/c", []byte("body c"))
	assert.Equal(t, 2, host.firsts.Len())

	// "body a" was evicted, so a later copy is no longer a duplicate.
	again := &crawler.URI{Location: "https://example.com/a-copy"}
	host.RecordPayload(again.URL(), []byte("body a"))
	assert.True(t, host.ShouldWrite(again))
	assert.Equal(t, 2, host.firsts.Len())
}

func TestHostAddress(t *testing.T) {
	t.Parallel()

	host := NewHost(nil, 0)
	uri := &crawler.URI{Location: "https://example.com/"}
	assert.Empty(t, host.HostAddress(uri))

	host.addrs.put(uri.URL(), "93.184.216.34")
	assert.Equal(t, "93.184.216.34", host.HostAddress(uri))

	host.Forget(uri.URL())
	assert.Empty(t, host.HostAddress(uri))
	assert.Equal(t, "10.0.0.7", host.HostAddress(&crawler.URI{Location: "http://10.0.0.7:8080/x"}))
}
