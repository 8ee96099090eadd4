package world

import (
	"github.com/patrickmn/go-cache"
)

// WatchBaseline remembers the last fingerprint seen for each document. It
// lives only in process memory and is rebuilt by the first scan after a
// restart. Safe for concurrent use.
type WatchBaseline struct {
	entries *cache.Cache
}

// NewWatchBaseline creates an empty baseline. Entries never expire and no
// janitor goroutine is started.
func NewWatchBaseline() *WatchBaseline {
	return &WatchBaseline{entries: cache.New(cache.NoExpiration, 0)}
}

// Get returns the recorded fingerprint for path.
func (b *WatchBaseline) Get(path string) (string, bool) {
	v, ok := b.entries.Get(path)
	if !ok {
		return "", false
	}
	fp, ok := v.(string)
	return fp, ok
}

// Set records fp as the current fingerprint of path.
func (b *WatchBaseline) Set(path, fp string) {
	b.entries.Set(path, fp, cache.NoExpiration)
}

// Delete forgets path.
func (b *WatchBaseline) Delete(path string) {
	b.entries.Delete(path)
}

// Len returns the number of tracked documents.
func (b *WatchBaseline) Len() int {
	return b.entries.ItemCount()
}

// Paths returns every tracked path.
func (b *WatchBaseline) Paths() []string {
	items := b.entries.Items()
	out := make([]string, 0, len(items))
	for p := range items {
		out = append(out, p)
	}
	return out
}
