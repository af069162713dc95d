package collyfetcher

import (
	"net"
	"strings"
)

// domainSet matches hosts against exact names and "*.suffix" / ".suffix"
// wildcards. A nil set matches nothing.
type domainSet struct {
	exact    map[string]struct{}
	suffixes []string
}

func newDomainSet(patterns []string) *domainSet {
	set := &domainSet{exact: make(map[string]struct{})}
	for _, raw := range patterns {
		value := normalizeHost(raw)
		if value == "" {
			continue
		}
		if suffix, ok := wildcardSuffix(value); ok {
			set.addSuffix(suffix)
			continue
		}
		set.exact[value] = struct{}{}
	}
	if len(set.exact) == 0 && len(set.suffixes) == 0 {
		return nil
	}
	return set
}

func wildcardSuffix(pattern string) (string, bool) {
	for _, prefix := range []string{"*.", "."} {
		if strings.HasPrefix(pattern, prefix) {
			suffix := strings.TrimPrefix(pattern, prefix)
			return suffix, suffix != ""
		}
	}
	return "", false
}

func (s *domainSet) addSuffix(suffix string) {
	for _, existing := range s.suffixes {
		if existing == suffix {
			return
		}
	}
	s.suffixes = append(s.suffixes, suffix)
}

// Contains reports whether host (optionally with a port) is in the set.
func (s *domainSet) Contains(host string) bool {
	if s == nil {
		return false
	}
	host = normalizeHost(host)
	if host == "" {
		return false
	}
	if _, ok := s.exact[host]; ok {
		return true
	}
	for _, suffix := range s.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}

func normalizeHost(raw string) string {
	host := strings.TrimSpace(strings.ToLower(raw))
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.TrimSuffix(host, ".")
}
