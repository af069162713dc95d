package processor

import (
	"net"
	"net/url"

	"github.com/hiber-niu/heritrix-mongodb-writer/internal/crawler"
)

// Host is the slice of the crawler pipeline the processor defers to. The
// predecessor checks run before the processor's own admission rules.
type Host interface {
	// ShouldProcess is the host's own admission check.
	ShouldProcess(uri crawler.CrawlURI) bool
	// ShouldWrite is the host's own write gate (e.g. duplicate suppression).
	ShouldWrite(uri crawler.CrawlURI) bool
	// HostAddress returns the IP the URI was fetched from.
	HostAddress(uri crawler.CrawlURI) string
	// CopyForwardWriteTagIfDupe propagates dedup annotations for URIs that are
	// admitted but not written.
	CopyForwardWriteTagIfDupe(uri crawler.CrawlURI)
}

// DefaultHost admits everything and resolves addresses from the URL host
// when it is a literal IP.
type DefaultHost struct{}

// ShouldProcess always admits.
func (DefaultHost) ShouldProcess(crawler.CrawlURI) bool { return true }

// ShouldWrite always admits.
func (DefaultHost) ShouldWrite(crawler.CrawlURI) bool { return true }

// HostAddress returns the URL host when it is an IP literal, else "".
func (DefaultHost) HostAddress(uri crawler.CrawlURI) string {
	u, err := url.Parse(uri.URL())
	if err != nil {
		return ""
	}
	if ip := net.ParseIP(u.Hostname()); ip != nil {
		return ip.String()
	}
	return ""
}

// CopyForwardWriteTagIfDupe does nothing.
func (DefaultHost) CopyForwardWriteTagIfDupe(crawler.CrawlURI) {}
