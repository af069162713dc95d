package collyfetcher

import "testing"

func TestDomainSet(t *testing.T) {
	t.Run("exact match", func(t *testing.T) {
		set := newDomainSet([]string{"example.org"})
		if set == nil {
			t.Fatalf("expected set to be created")
		}
		if !set.Contains("example.org") {
			t.Fatalf("expected example.org to match")
		}
		if !set.Contains("Example.org:8443") {
			t.Fatalf("expected host with port to match")
		}
		if set.Contains("sub.example.org") {
			t.Fatalf("did not expect subdomains to match exact entry")
		}
	})

	t.Run("wildcard suffix", func(t *testing.T) {
		set := newDomainSet([]string{"*.ru", ".cn"})
		cases := []struct {
			host  string
			match bool
		}{
			{"example.ru", true},
			{"sub.domain.ru", true},
			{"ru", true},
			{"news.cn.", true},
			{"example.com", false},
			{"", false},
		}
		for _, tc := range cases {
			if got := set.Contains(tc.host); got != tc.match {
				t.Fatalf("host %q match=%v, want %v", tc.host, got, tc.match)
			}
		}
	})

	t.Run("empty patterns", func(t *testing.T) {
		if set := newDomainSet([]string{" ", "*."}); set != nil {
			t.Fatalf("expected nil set for empty patterns, got %+v", set)
		}
	})

	t.Run("nil set", func(t *testing.T) {
		var set *domainSet
		if set.Contains("anything") {
			t.Fatalf("nil set should never match")
		}
	})
}
