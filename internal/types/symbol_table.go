package types

import (
	"sort"
	"sync"
)

// SymbolTable is the mutable key/value context shared by reference
// across one dispatch run. Plugins may read and write it concurrently;
// writes are last-writer-wins per key.
type SymbolTable struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewSymbolTable creates an empty symbol table.
func NewSymbolTable() *SymbolTable {
	return &SymbolTable{values: make(map[string]any)}
}

// Get returns the value for key and whether it is present.
func (st *SymbolTable) Get(key string) (any, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	v, ok := st.values[key]
	return v, ok
}

// Set stores value under key, replacing any prior value.
func (st *SymbolTable) Set(key string, value any) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.values[key] = value
}

// Delete removes key. Deleting an absent key is a no-op.
func (st *SymbolTable) Delete(key string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.values, key)
}

// Keys returns all keys in sorted order.
func (st *SymbolTable) Keys() []string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	keys := make([]string, 0, len(st.values))
	for k := range st.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of stored keys.
func (st *SymbolTable) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.values)
}

// Snapshot returns a shallow copy of the current contents.
func (st *SymbolTable) Snapshot() map[string]any {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make(map[string]any, len(st.values))
	for k, v := range st.values {
		out[k] = v
	}
	return out
}

// Merge stores every entry of m, overwriting existing keys.
func (st *SymbolTable) Merge(m map[string]any) {
	st.mu.Lock()
	defer st.mu.Unlock()
	for k, v := range m {
		st.values[k] = v
	}
}
