package processor

import (
	"sync"
	"sync/atomic"
)

// Stats is a two-level bucket → key → counter map safe for concurrent use.
type Stats struct {
	buckets sync.Map // string → *sync.Map of string → *atomic.Int64
}

// NewStats returns an empty Stats.
func NewStats() *Stats {
	return &Stats{}
}

func (s *Stats) bucket(name string) *sync.Map {
	if b, ok := s.buckets.Load(name); ok {
		return b.(*sync.Map)
	}
	b, _ := s.buckets.LoadOrStore(name, &sync.Map{})
	return b.(*sync.Map)
}

// Add adds delta to bucket/key, creating both lazily.
func (s *Stats) Add(bucket, key string, delta int64) {
	b := s.bucket(bucket)
	if c, ok := b.Load(key); ok {
		c.(*atomic.Int64).Add(delta)
		return
	}
	fresh := new(atomic.Int64)
	c, _ := b.LoadOrStore(key, fresh)
	c.(*atomic.Int64).Add(delta)
}

// Merge adds every count of substats into s.
func (s *Stats) Merge(substats map[string]map[string]int64) {
	for bucket, keys := range substats {
		b := s.bucket(bucket)
		for key, delta := range keys {
			c, _ := b.LoadOrStore(key, new(atomic.Int64))
			c.(*atomic.Int64).Add(delta)
		}
	}
}

// Get returns the count of bucket/key, or zero.
func (s *Stats) Get(bucket, key string) int64 {
	b, ok := s.buckets.Load(bucket)
	if !ok {
		return 0
	}
	c, ok := b.(*sync.Map).Load(key)
	if !ok {
		return 0
	}
	return c.(*atomic.Int64).Load()
}

// Snapshot copies the current counts.
func (s *Stats) Snapshot() map[string]map[string]int64 {
	out := make(map[string]map[string]int64)
	s.buckets.Range(func(name, b any) bool {
		keys := make(map[string]int64)
		b.(*sync.Map).Range(func(key, c any) bool {
			keys[key.(string)] = c.(*atomic.Int64).Load()
			return true
		})
		out[name.(string)] = keys
		return true
	})
	return out
}
