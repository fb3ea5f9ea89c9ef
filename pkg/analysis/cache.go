package analysis

import (
	"sync"
	"time"

	"github.com/mamaar/vbarefactor/pkg/types"
)

// TokenCache keeps the token stream of each module keyed by its text, so a
// reparse only lexes modules that changed.
type TokenCache struct {
	entries map[types.QualifiedModuleName]cacheEntry
	lock    sync.RWMutex

	cacheStats CacheStats
	statsLock  sync.RWMutex
}

type cacheEntry struct {
	text   string
	tokens []token
}

// CacheStats tracks cache performance metrics
type CacheStats struct {
	Hits      int64
	Misses    int64
	LastReset time.Time
}

// NewTokenCache creates a new token cache
func NewTokenCache() *TokenCache {
	return &TokenCache{
		entries: make(map[types.QualifiedModuleName]cacheEntry),
		cacheStats: CacheStats{
			LastReset: time.Now(),
		},
	}
}

// Tokens returns the tokens of text, lexing it only when the module's text
// differs from the cached one. The returned slice must not be modified.
func (c *TokenCache) Tokens(module types.QualifiedModuleName, text string) []token {
	c.lock.RLock()
	entry, ok := c.entries[module]
	c.lock.RUnlock()

	if ok && entry.text == text {
		c.recordHit()
		return entry.tokens
	}

	c.recordMiss()
	toks := lex(text)
	c.lock.Lock()
	c.entries[module] = cacheEntry{text: text, tokens: toks}
	c.lock.Unlock()
	return toks
}

// Retain drops every module not among sources, e.g. after modules were
// removed from the project.
func (c *TokenCache) Retain(sources []Source) {
	keep := make(map[types.QualifiedModuleName]bool, len(sources))
	for _, src := range sources {
		keep[src.Module] = true
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	for module := range c.entries {
		if !keep[module] {
			delete(c.entries, module)
		}
	}
}

// Len returns the number of cached modules.
func (c *TokenCache) Len() int {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return len(c.entries)
}

// Clear removes all cached entries
func (c *TokenCache) Clear() {
	c.lock.Lock()
	c.entries = make(map[types.QualifiedModuleName]cacheEntry)
	c.lock.Unlock()

	c.statsLock.Lock()
	c.cacheStats = CacheStats{LastReset: time.Now()}
	c.statsLock.Unlock()
}

// GetStats returns a copy of the current cache statistics
func (c *TokenCache) GetStats() CacheStats {
	c.statsLock.RLock()
	defer c.statsLock.RUnlock()
	return c.cacheStats
}

// HitRate returns the fraction of lookups served from the cache.
func (s CacheStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

func (c *TokenCache) recordHit() {
	c.statsLock.Lock()
	c.cacheStats.Hits++
	c.statsLock.Unlock()
}

func (c *TokenCache) recordMiss() {
	c.statsLock.Lock()
	c.cacheStats.Misses++
	c.statsLock.Unlock()
}
