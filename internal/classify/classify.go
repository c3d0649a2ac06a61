// Package classify implements the import item classifier: a pure
// function from (name, definitions) to an Action and the DefinitionEntry
// that produced it, memoized with an xxhash-backed cache since the same
// archive member names recur across collection runs.
package classify

import (
	"sync"

	"github.com/cespare/xxhash/v2"

	"orc-import/internal/metrics"
	"orc-import/pkg/model"
)

// Classify applies defs to name and returns the winning action and entry.
// First matching entry wins; an unmatched name classifies as
// model.ActionIgnore with a nil entry. Classify itself is a pure function;
// Cache wraps it with memoization.
func Classify(defs *model.DefinitionTable, name string) (model.Action, *model.DefinitionEntry) {
	if defs == nil {
		return model.ActionIgnore, nil
	}
	entry := defs.Match(name)
	if entry == nil {
		return model.ActionIgnore, nil
	}
	return entry.Action, entry
}

// IsToIgnore, IsToImport, IsToExtract, IsToExpand report whether name
// classifies to the corresponding action under defs. They are defined in
// terms of the same Classify call and therefore always agree pairwise:
// exactly one is true for any (defs, name).
func IsToIgnore(defs *model.DefinitionTable, name string) bool {
	a, _ := Classify(defs, name)
	return a == model.ActionIgnore
}

func IsToImport(defs *model.DefinitionTable, name string) bool {
	a, _ := Classify(defs, name)
	return a == model.ActionImport
}

func IsToExtract(defs *model.DefinitionTable, name string) bool {
	a, _ := Classify(defs, name)
	return a == model.ActionExtract
}

func IsToExpand(defs *model.DefinitionTable, name string) bool {
	a, _ := Classify(defs, name)
	return a == model.ActionExpand
}

// cacheKey identifies a memoized classification by the definition table's
// identity (its pointer, since two distinct tables may share entry
// patterns) and the literal name classified. Re-triage with a new,
// format-appropriate name after an envelope decode or archive extraction
// is therefore never served a stale entry: a different name is a different
// key.
type cacheKey struct {
	table *model.DefinitionTable
	name  string
}

type cacheValue struct {
	action model.Action
	entry  *model.DefinitionEntry
}

// Cache memoizes Classify results. Safe for concurrent use.
type Cache struct {
	mu    sync.RWMutex
	byKey map[uint64][]cachedEntry
}

type cachedEntry struct {
	key   cacheKey
	value cacheValue
}

// NewCache creates an empty classification cache.
func NewCache() *Cache {
	return &Cache{byKey: make(map[uint64][]cachedEntry)}
}

// Classify returns the memoized classification for (defs, name), computing
// and storing it on first use. The xxhash of name is used as the bucket
// key; a full key comparison within the bucket guards against hash
// collisions across different tables sharing a hash bucket.
func (c *Cache) Classify(defs *model.DefinitionTable, name string) (model.Action, *model.DefinitionEntry) {
	h := xxhash.Sum64String(name)
	key := cacheKey{table: defs, name: name}

	c.mu.RLock()
	for _, e := range c.byKey[h] {
		if e.key == key {
			c.mu.RUnlock()
			metrics.ClassifierCacheHitsTotal.Inc()
			return e.value.action, e.value.entry
		}
	}
	c.mu.RUnlock()

	metrics.ClassifierCacheMissesTotal.Inc()
	action, entry := Classify(defs, name)

	c.mu.Lock()
	c.byKey[h] = append(c.byKey[h], cachedEntry{key: key, value: cacheValue{action: action, entry: entry}})
	c.mu.Unlock()

	return action, entry
}
