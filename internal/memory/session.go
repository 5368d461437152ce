package memory

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/shannon-memory/core/internal/memcore"
	"github.com/shannon-memory/core/internal/memerr"
)

// contextStore holds the append-only message log per (user_id, agent_name)
// partition (spec §3.1: "Message ... Belongs to a session"), living only
// in process state like workingStore until save_session persists it.
type contextStore struct {
	mu       sync.RWMutex
	messages map[string][]memcore.Message
}

func newContextStore() *contextStore {
	return &contextStore{messages: make(map[string][]memcore.Message)}
}

func (c *contextStore) append(userID, agentName string, msg memcore.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pk := workingPartitionKey(userID, agentName)
	c.messages[pk] = append(c.messages[pk], msg)
}

func (c *contextStore) list(userID, agentName string) []memcore.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]memcore.Message(nil), c.messages[workingPartitionKey(userID, agentName)]...)
}

func (c *contextStore) restore(userID, agentName string, msgs []memcore.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages[workingPartitionKey(userID, agentName)] = append([]memcore.Message(nil), msgs...)
}

// AppendMessage adds one message to (user_id, agent_name)'s in-process
// context log.
func (m *Manager) AppendMessage(userID, agentName string, msg memcore.Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	m.contexts.append(userID, agentName, msg)
}

const sessionKeyPrefix = "session:"

// SaveSession materializes the current working-memory snapshot and message
// log for (user_id, agent_name) as a persistent Memory keyed
// "session:<name>" (spec §4.5.1/§4.5.4: "persisted via save session").
func (m *Manager) SaveSession(ctx context.Context, userID, agentName, name string) error {
	if name == "" {
		return memerr.New(component, memerr.CodeBadRequest, "session name is required")
	}
	session := memcore.CoreSession{
		SessionName: name,
		UserID:      userID,
		AgentName:   agentName,
		Messages:    m.contexts.list(userID, agentName),
		Working:     m.working.snapshot(userID, agentName),
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	blob, err := json.Marshal(session)
	if err != nil {
		return memerr.Wrap(component, memerr.CodeBadRequest, "session not JSON-encodable", err)
	}
	_, err = m.Remember(ctx, RememberSpec{
		UserID:    userID,
		AgentName: agentName,
		Key:       sessionKeyPrefix + name,
		Value:     string(blob),
		Scope:     memcore.ScopePersistent,
		Tags:      []string{"session"},
	})
	return err
}

// LoadSession restores a previously saved session's working memory and
// message log into process state, returning false if no session with that
// name was ever saved.
func (m *Manager) LoadSession(ctx context.Context, userID, agentName, name string) (*memcore.CoreSession, bool, error) {
	mem, err := m.kv.Get(ctx, userID, agentName, sessionKeyPrefix+name)
	if err != nil {
		return nil, false, err
	}
	if mem == nil {
		return nil, false, nil
	}
	blob, ok := mem.Value.(string)
	if !ok {
		return nil, false, memerr.New(component, memerr.CodeStoreUnavailable, "stored session value is not a string")
	}
	var session memcore.CoreSession
	if err := json.Unmarshal([]byte(blob), &session); err != nil {
		return nil, false, memerr.Wrap(component, memerr.CodeStoreUnavailable, "session payload corrupt", err)
	}
	m.working.restore(userID, agentName, session.Working)
	m.contexts.restore(userID, agentName, session.Messages)
	return &session, true, nil
}
