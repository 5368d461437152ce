// Package lexical implements LexicalIndex (C5): an in-process inverted
// index scored with BM25-Okapi, partitioned per (user_id, agent_name)
// (spec §4.3). No ecosystem BM25 library appears anywhere in the retrieved
// example pack (checked: teacher, tarsy, sentinel-x, l7n102031, sqvect all
// lack one) — this is the one component built from scratch rather than
// wired to a third-party dependency, documented in DESIGN.md.
package lexical

import (
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shannon-memory/core/internal/metrics"
)

const (
	k1 = 1.2
	b  = 0.75
)

// Metadata mirrors vectorindex.Metadata so LexicalIndex can be filtered the
// same way VectorIndex is (spec §4.3's `metadata` param).
type Metadata struct {
	UserID    string
	AgentName string
	Scope     string
	Tags      []string
}

// Filter narrows a Search call.
type Filter struct {
	UserID    string
	AgentName string
	Scope     string
	Tags      []string
}

// Result is one BM25 hit.
type Result struct {
	ID    string
	Score float64
}

type document struct {
	id      string
	tokens  []string
	tf      map[string]int
	length  int
	meta    Metadata
}

// partition is one (user_id, agent_name) shard of the inverted index
// (teacher's session.Manager locking idiom: one mutex guarding a map).
type partition struct {
	mu        sync.RWMutex
	docs      map[string]*document
	postings  map[string]map[string]struct{} // token -> set of doc ids
	totalLen  int
}

func newPartition() *partition {
	return &partition{
		docs:     make(map[string]*document),
		postings: make(map[string]map[string]struct{}),
	}
}

// Index is the BM25-Okapi LexicalIndex.
type Index struct {
	mu         sync.RWMutex
	partitions map[string]*partition
	logger     *zap.Logger
}

// New constructs an empty lexical index.
func New(logger *zap.Logger) *Index {
	return &Index{partitions: make(map[string]*partition), logger: logger}
}

func partitionKey(userID, agentName string) string {
	return userID + "\x00" + agentName
}

func (x *Index) partitionFor(userID, agentName string, create bool) *partition {
	key := partitionKey(userID, agentName)
	x.mu.RLock()
	p, ok := x.partitions[key]
	x.mu.RUnlock()
	if ok || !create {
		return p
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if p, ok = x.partitions[key]; ok {
		return p
	}
	p = newPartition()
	x.partitions[key] = p
	return p
}

// Upsert indexes text under id, tagged with meta (spec §4.3).
func (x *Index) Upsert(id, text string, meta Metadata) {
	p := x.partitionFor(meta.UserID, meta.AgentName, true)
	tokens := Tokenize(text)
	tf := make(map[string]int, len(tokens))
	for _, t := range tokens {
		tf[t]++
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if old, ok := p.docs[id]; ok {
		p.totalLen -= old.length
		for t := range old.tf {
			if set, ok := p.postings[t]; ok {
				delete(set, id)
				if len(set) == 0 {
					delete(p.postings, t)
				}
			}
		}
	}
	doc := &document{id: id, tokens: tokens, tf: tf, length: len(tokens), meta: meta}
	p.docs[id] = doc
	p.totalLen += doc.length
	for t := range tf {
		set, ok := p.postings[t]
		if !ok {
			set = make(map[string]struct{})
			p.postings[t] = set
		}
		set[id] = struct{}{}
	}
}

// Delete removes id from whichever partition holds it. meta identifies the
// partition; callers (MemoryManager) already know it from the Memory being
// deleted.
func (x *Index) Delete(id string, meta Metadata) {
	p := x.partitionFor(meta.UserID, meta.AgentName, false)
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	old, ok := p.docs[id]
	if !ok {
		return
	}
	p.totalLen -= old.length
	delete(p.docs, id)
	for t := range old.tf {
		if set, ok := p.postings[t]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(p.postings, t)
			}
		}
	}
}

// Search scores query against the (user_id, agent_name) partition named by
// filter and returns the top k by BM25 score descending (spec §4.3).
func (x *Index) Search(query string, k int, filter Filter) []Result {
	start := time.Now()
	defer func() { metrics.RecordLexicalSearchMetrics("ok", time.Since(start).Seconds()) }()

	if query == "" || k <= 0 {
		return nil
	}
	p := x.partitionFor(filter.UserID, filter.AgentName, false)
	if p == nil {
		return nil
	}
	queryTokens := Tokenize(query)
	if len(queryTokens) == 0 {
		return nil
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	n := len(p.docs)
	if n == 0 {
		return nil
	}
	avgLen := float64(p.totalLen) / float64(n)

	scores := make(map[string]float64)
	seen := make(map[string]struct{})
	for _, qt := range dedupe(queryTokens) {
		postings, ok := p.postings[qt]
		if !ok {
			continue
		}
		df := len(postings)
		idf := math.Log(1 + (float64(n)-float64(df)+0.5)/(float64(df)+0.5))
		for id := range postings {
			doc := p.docs[id]
			if !matchesFilter(doc.meta, filter) {
				continue
			}
			seen[id] = struct{}{}
			tf := float64(doc.tf[qt])
			denom := tf + k1*(1-b+b*float64(doc.length)/avgLen)
			scores[id] += idf * (tf * (k1 + 1)) / denom
		}
	}

	out := make([]Result, 0, len(scores))
	for id := range seen {
		out = append(out, Result{ID: id, Score: scores[id]})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > k {
		out = out[:k]
	}
	return out
}

func matchesFilter(meta Metadata, f Filter) bool {
	if f.Scope != "" && meta.Scope != f.Scope {
		return false
	}
	for _, want := range f.Tags {
		found := false
		for _, have := range meta.Tags {
			if have == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func dedupe(tokens []string) []string {
	set := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if _, ok := set[t]; !ok {
			set[t] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}
