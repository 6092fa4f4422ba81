package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is the in-memory Store used by tests and `serve --memory`.
// Behavior mirrors the S3 adapter: flat keyspace, prefix listing with `/`
// delimiter semantics, best-effort bulk delete.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memObject
	// clock is replaceable so tests can age objects.
	clock func() time.Time
}

type memObject struct {
	content string
	modTime time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects: make(map[string]memObject),
		clock:   time.Now,
	}
}

// SetClock replaces the modification-time source. Test hook.
func (m *MemoryStore) SetClock(clock func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clock = clock
}

func (m *MemoryStore) Put(_ context.Context, key, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = memObject{content: content, modTime: m.clock().UTC()}
	return nil
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return "", ErrNotFound
	}
	return obj.content, nil
}

func (m *MemoryStore) PutJSON(ctx context.Context, key string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %q: %w", key, err)
	}
	return m.Put(ctx, key, string(b))
}

func (m *MemoryStore) GetJSON(ctx context.Context, key string, v any) error {
	raw, err := m.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("failed to decode %q: %w", key, err)
	}
	return nil
}

func (m *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[key]
	return ok, nil
}

func (m *MemoryStore) List(_ context.Context, prefix string) ([]ObjectInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ObjectInfo
	for key, obj := range m.objects {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		out = append(out, ObjectInfo{Key: key, Size: int64(len(obj.content)), LastModified: obj.modTime})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *MemoryStore) ListPrefixes(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]struct{})
	for key := range m.objects {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		rest := key[len(prefix):]
		idx := strings.Index(rest, "/")
		if idx < 0 {
			continue
		}
		seen[prefix+rest[:idx+1]] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryStore) ListAndGet(ctx context.Context, prefix string, includeKeep bool) ([]Object, error) {
	infos, err := m.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	out := make([]Object, 0, len(infos))
	for _, info := range infos {
		if !includeKeep && IsKeep(info.Key) {
			continue
		}
		content, err := m.Get(ctx, info.Key)
		if err != nil {
			continue
		}
		out = append(out, Object{Key: info.Key, Size: int64(len(content)), Content: content})
	}
	return out, nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *MemoryStore) DeleteMany(ctx context.Context, keys []string) (int, error) {
	deleted := 0
	for _, key := range keys {
		if err := m.Delete(ctx, key); err == nil {
			deleted++
		}
	}
	return deleted, nil
}

func (m *MemoryStore) Copy(_ context.Context, src, dst string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[src]
	if !ok {
		return ErrNotFound
	}
	m.objects[dst] = memObject{content: obj.content, modTime: m.clock().UTC()}
	return nil
}

func (m *MemoryStore) Ping(_ context.Context) (PingResult, error) {
	return PingResult{Bucket: "memory", LatencyMs: 0}, nil
}

// SetModTime backdates an object. Test hook for GC age scenarios.
func (m *MemoryStore) SetModTime(key string, t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if obj, ok := m.objects[key]; ok {
		obj.modTime = t
		m.objects[key] = obj
	}
}
