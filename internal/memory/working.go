package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/shannon-memory/core/internal/memcore"
)

// workingStore is the in-process scope=working tier (spec §4.5.4: "dropped
// on process restart unless persisted by save_session"), partitioned by
// (user_id, agent_name); one RWMutex guards every partition.
type workingStore struct {
	mu         sync.RWMutex
	partitions map[string]map[string]memcore.Memory // partitionKey -> key -> Memory
}

func newWorkingStore() *workingStore {
	return &workingStore{partitions: make(map[string]map[string]memcore.Memory)}
}

func workingPartitionKey(userID, agentName string) string {
	return userID + "\x00" + agentName
}

func (w *workingStore) put(userID, agentName string, m memcore.Memory) {
	w.mu.Lock()
	defer w.mu.Unlock()
	pk := workingPartitionKey(userID, agentName)
	p, ok := w.partitions[pk]
	if !ok {
		p = make(map[string]memcore.Memory)
		w.partitions[pk] = p
	}
	p[m.Key] = m
}

func (w *workingStore) get(userID, agentName, key string) (memcore.Memory, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	p, ok := w.partitions[workingPartitionKey(userID, agentName)]
	if !ok {
		return memcore.Memory{}, false
	}
	m, ok := p[key]
	return m, ok
}

func (w *workingStore) delete(userID, agentName, key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	p, ok := w.partitions[workingPartitionKey(userID, agentName)]
	if !ok {
		return false
	}
	if _, ok := p[key]; !ok {
		return false
	}
	delete(p, key)
	return true
}

// list returns every working memory for (user_id, agent_name) sorted by
// updated_at desc, matching KVStore.Scan's ordering contract.
func (w *workingStore) list(userID, agentName string) []memcore.Memory {
	w.mu.RLock()
	defer w.mu.RUnlock()
	p, ok := w.partitions[workingPartitionKey(userID, agentName)]
	if !ok {
		return nil
	}
	out := make([]memcore.Memory, 0, len(p))
	for _, m := range p {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out
}

// snapshot returns the full working set for (user_id, agent_name), used by
// save_session to materialize CoreSession.Working.
func (w *workingStore) snapshot(userID, agentName string) map[string]memcore.Memory {
	w.mu.RLock()
	defer w.mu.RUnlock()
	p, ok := w.partitions[workingPartitionKey(userID, agentName)]
	if !ok {
		return nil
	}
	out := make(map[string]memcore.Memory, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// restore replaces the working set for (user_id, agent_name) wholesale,
// used by load_session.
func (w *workingStore) restore(userID, agentName string, set map[string]memcore.Memory) {
	w.mu.Lock()
	defer w.mu.Unlock()
	pk := workingPartitionKey(userID, agentName)
	p := make(map[string]memcore.Memory, len(set))
	for k, v := range set {
		p[k] = v
	}
	w.partitions[pk] = p
}

func (w *workingStore) findByContentHash(userID, agentName, contentHash string) (memcore.Memory, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	p, ok := w.partitions[workingPartitionKey(userID, agentName)]
	if !ok {
		return memcore.Memory{}, false
	}
	for _, m := range p {
		if m.ContentHash == contentHash {
			return m, true
		}
	}
	return memcore.Memory{}, false
}

// pruneOlderThan removes working memories not updated since cutoff across
// every partition for userID, returning the count removed.
func (w *workingStore) pruneOlderThan(userID string, cutoff time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	prefix := userID + "\x00"
	for pk, p := range w.partitions {
		if len(pk) < len(prefix) || pk[:len(prefix)] != prefix {
			continue
		}
		for k, m := range p {
			if m.UpdatedAt.Before(cutoff) {
				delete(p, k)
				n++
			}
		}
	}
	return n
}
