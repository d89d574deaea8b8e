package kvstore

import (
	"context"
	"sort"
	"sync"
)

type rowKey struct{ partition, sort string }

// Memory is an in-process Store used by orchestrator tests; it implements
// the exact same conditional semantics as the DynamoDB store so handler
// tests don't need a live table.
type Memory struct {
	mu   sync.Mutex
	rows map[rowKey]Item

	// index maps secondary-index name -> index key -> partitions present
	// under that key, used by QueryIndex.
	byModel    map[string]map[string]bool
	byManifest map[string]map[string]bool
}

// NewMemory constructs an empty in-memory Store.
func NewMemory() *Memory {
	return &Memory{
		rows:       make(map[rowKey]Item),
		byModel:    make(map[string]map[string]bool),
		byManifest: make(map[string]map[string]bool),
	}
}

func (m *Memory) PutIfAbsent(_ context.Context, item Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := rowKey{item.Partition, item.Sort}
	if _, ok := m.rows[key]; ok {
		return ErrConditionFailed
	}
	m.rows[key] = cloneItem(item)
	m.indexLocked(item)
	return nil
}

func (m *Memory) Get(_ context.Context, partition, sort string) (Item, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.rows[rowKey{partition, sort}]
	return cloneItem(item), ok, nil
}

func (m *Memory) Put(_ context.Context, item Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rows[rowKey{item.Partition, item.Sort}] = cloneItem(item)
	m.indexLocked(item)
	return nil
}

func (m *Memory) Query(_ context.Context, partition string) ([]Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Item
	for k, v := range m.rows {
		if k.partition == partition {
			out = append(out, cloneItem(v))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sort < out[j].Sort })
	return out, nil
}

func (m *Memory) UpdateCounter(_ context.Context, partition, sort, counterAttr string, delta, ceiling int, extra map[string]any) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := rowKey{partition, sort}
	item, ok := m.rows[key]
	if !ok {
		return 0, false, ErrConditionFailed
	}

	current := asInt(item.Attrs[counterAttr])
	if current >= ceiling {
		return current, false, ErrConditionFailed
	}

	newValue := current + delta
	if item.Attrs == nil {
		item.Attrs = make(map[string]any)
	}
	// Stored as float64, the type a DynamoDB number reads back as.
	item.Attrs[counterAttr] = float64(newValue)
	reached := newValue >= ceiling
	if reached {
		for k, v := range extra {
			item.Attrs[k] = v
		}
	}
	m.rows[key] = item

	return newValue, reached, nil
}

// asInt coerces a counter attribute read back from storage to int. Items
// built via attrsOf's JSON round trip store numbers as float64, while
// items constructed directly in tests may already hold int.
func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return 0
	}
}

func (m *Memory) PutIfVersion(_ context.Context, item Item, expectedVersion int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := rowKey{item.Partition, item.Sort}
	current, ok := m.rows[key]
	currentVersion := 0
	if ok {
		currentVersion = asInt(current.Attrs["version"])
	}
	if currentVersion != expectedVersion {
		return ErrConditionFailed
	}

	m.rows[key] = cloneItem(item)
	m.indexLocked(item)
	return nil
}

func (m *Memory) QueryIndex(_ context.Context, indexName, key string) ([]Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var idx map[string]map[string]bool
	switch indexName {
	case IndexByModel:
		idx = m.byModel
	case IndexByManifest:
		idx = m.byManifest
	default:
		return nil, nil
	}

	var out []Item
	for partition := range idx[key] {
		for k, v := range m.rows {
			if k.partition == partition && k.sort == SortMeta {
				out = append(out, cloneItem(v))
			}
		}
	}
	return out, nil
}

// indexLocked updates the by-model and by-manifest secondary index sets
// from a Run META row's attributes. Callers must hold m.mu.
func (m *Memory) indexLocked(item Item) {
	if item.Sort != SortMeta {
		return
	}
	if modelID, ok := item.Attrs["model_id"].(string); ok && modelID != "" {
		if m.byModel[modelID] == nil {
			m.byModel[modelID] = make(map[string]bool)
		}
		m.byModel[modelID][item.Partition] = true
	}
	if manifestID, ok := item.Attrs["manifest_id"].(string); ok && manifestID != "" {
		if m.byManifest[manifestID] == nil {
			m.byManifest[manifestID] = make(map[string]bool)
		}
		m.byManifest[manifestID][item.Partition] = true
	}
}

func cloneItem(item Item) Item {
	attrs := make(map[string]any, len(item.Attrs))
	for k, v := range item.Attrs {
		attrs[k] = v
	}
	return Item{Partition: item.Partition, Sort: item.Sort, Attrs: attrs}
}
