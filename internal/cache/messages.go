package cache

import (
	"slices"

	"github.com/matheus3301/threadline/internal/bus"
	"github.com/matheus3301/threadline/internal/model"
)

// UpsertMessage merges m into the cache. It is the only way messages enter
// or change, whether they come from a history page, a push event or the
// send pipeline.
//
// m is matched against cached records by server id, then by correlation id,
// and finally, for a server record that carries no correlation id, against
// unconfirmed stubs of the same sender with the same content created within
// the echo window. A stub never overrides a server record, and a server
// record older than the cached one only contributes its delivery state.
func (c *Cache) UpsertMessage(m model.Message) (MessageChange, error) {
	if m.SessionID == "" || (m.ID == "" && m.CorrelationID == "") {
		return MessageChange{}, ErrNoIdentity
	}
	if m.State == "" {
		if m.IsStub() {
			m.State = model.Pending
		} else {
			m.State = model.Sent
		}
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = m.CreatedAt
	}

	var events []bus.Event
	c.mu.Lock()
	change := c.upsertMessageLocked(m, &events)
	c.mu.Unlock()

	c.publish(events)
	return change, nil
}

func (c *Cache) upsertMessageLocked(m model.Message, events *[]bus.Event) MessageChange {
	key, collapse := c.resolve(m)

	if key == "" {
		entry := c.ensureSession(m.SessionID, events)
		c.insert(entry, m)
		c.touchSession(entry, events)
		change := MessageChange{Kind: Created, SessionID: m.SessionID, Key: m.Key(), Message: m}
		*events = append(*events, event(EventMessageUpserted, change))
		return change
	}

	old := c.messages[key]
	merged, changed := merge(old, m)
	if collapse != "" {
		if stub, ok := c.messages[collapse]; ok {
			if merged.CorrelationID == "" {
				merged.CorrelationID = stub.CorrelationID
			}
			c.remove(stub)
			changed = true
		}
	}
	if !changed {
		return MessageChange{Kind: Unchanged, SessionID: old.SessionID, Key: key, Message: old}
	}

	kind := Updated
	if old.IsStub() && !merged.IsStub() || collapse != "" {
		kind = Reconciled
	}
	prevKey := ""
	switch {
	case collapse != "":
		prevKey = collapse
	case key != merged.Key():
		prevKey = key
	}

	entry := c.ensureSession(merged.SessionID, events)
	if key != merged.Key() || !old.CreatedAt.Equal(merged.CreatedAt) || old.SessionID != merged.SessionID {
		c.remove(old)
		c.insert(entry, merged)
	} else {
		c.messages[key] = merged
		if merged.CorrelationID != "" {
			c.byCorrelation[merged.CorrelationID] = key
		}
	}
	if old.SessionID != merged.SessionID {
		if prev, ok := c.sessions[old.SessionID]; ok {
			c.touchSession(prev, events)
		}
	}
	c.touchSession(entry, events)

	change := MessageChange{Kind: kind, SessionID: merged.SessionID, Key: merged.Key(), PrevKey: prevKey, Message: merged}
	*events = append(*events, event(EventMessageUpserted, change))
	return change
}

// resolve finds the cached record m refers to. collapse is set when m links
// a server record to a separate stub that must be folded into it.
func (c *Cache) resolve(m model.Message) (key, collapse string) {
	if m.ID != "" {
		if _, ok := c.messages[m.ID]; ok {
			key = m.ID
		}
	}
	if m.CorrelationID != "" {
		if k, ok := c.byCorrelation[m.CorrelationID]; ok && k != key {
			// One record per correlation id. A second server id for a send
			// already confirmed under k folds into k, the first id seen.
			if key == "" {
				key = k
			} else {
				collapse = k
			}
		}
	}
	if key == "" && !m.IsStub() && m.CorrelationID == "" {
		key = c.matchEcho(m)
	}
	return key, collapse
}

// matchEcho pairs an uncorrelated server record with the closest stub from
// the same sender with identical content. This is a heuristic: two identical
// sends inside the window may be paired crosswise, which still leaves one
// record per send.
func (c *Cache) matchEcho(m model.Message) string {
	entry, ok := c.sessions[m.SessionID]
	if !ok {
		return ""
	}
	best := ""
	bestDelta := c.echoWindow + 1
	for _, k := range entry.keys {
		if !model.IsLocalKey(k) {
			continue
		}
		stub := c.messages[k]
		if stub.SenderID != m.SenderID || !model.SameContent(stub.Content, m.Content) {
			continue
		}
		delta := m.CreatedAt.Sub(stub.CreatedAt)
		if delta < 0 {
			delta = -delta
		}
		if delta <= c.echoWindow && delta < bestDelta {
			best, bestDelta = k, delta
		}
	}
	return best
}

// merge combines a cached record with an incoming one.
func merge(old, in model.Message) (model.Message, bool) {
	switch {
	case !old.IsStub() && in.IsStub():
		return old, false

	case old.IsStub() && in.IsStub():
		out := in
		out.CorrelationID = old.CorrelationID
		out.SessionID = old.SessionID
		if out.Content == nil {
			out.Content = old.Content
		}
		if out.SenderID == "" {
			out.SenderID = old.SenderID
		}
		if out.CreatedAt.IsZero() {
			out.CreatedAt = old.CreatedAt
			out.UpdatedAt = old.UpdatedAt
		}
		return out, !messageEqual(old, out)

	case old.IsStub():
		out := in
		if out.CorrelationID == "" {
			out.CorrelationID = old.CorrelationID
		}
		out.Error = ""
		return out, true
	}

	out := old
	if in.UpdatedAt.After(old.UpdatedAt) {
		out.Content = in.Content
		out.UpdatedAt = in.UpdatedAt
	}
	if in.State.Rank() > old.State.Rank() {
		out.State = in.State
	}
	if out.CorrelationID == "" {
		out.CorrelationID = in.CorrelationID
	}
	out.Error = ""
	return out, !messageEqual(old, out)
}

func messageEqual(a, b model.Message) bool {
	return a.ID == b.ID &&
		a.CorrelationID == b.CorrelationID &&
		a.SessionID == b.SessionID &&
		a.SenderID == b.SenderID &&
		model.SameContent(a.Content, b.Content) &&
		a.CreatedAt.Equal(b.CreatedAt) &&
		a.UpdatedAt.Equal(b.UpdatedAt) &&
		a.State == b.State &&
		a.Error == b.Error
}

// insert stores m and places its key in thread order.
func (c *Cache) insert(entry *sessionEntry, m model.Message) {
	key := m.Key()
	c.messages[key] = m
	if m.CorrelationID != "" {
		c.byCorrelation[m.CorrelationID] = key
	}
	i, _ := slices.BinarySearchFunc(entry.keys, m, func(k string, target model.Message) int {
		return model.CompareMessages(c.messages[k], target)
	})
	entry.keys = slices.Insert(entry.keys, i, key)
}

// remove drops m from the message index and its session order.
func (c *Cache) remove(m model.Message) {
	key := m.Key()
	delete(c.messages, key)
	if m.CorrelationID != "" && c.byCorrelation[m.CorrelationID] == key {
		delete(c.byCorrelation, m.CorrelationID)
	}
	entry, ok := c.sessions[m.SessionID]
	if !ok {
		return
	}
	if i := slices.Index(entry.keys, key); i >= 0 {
		entry.keys = slices.Delete(entry.keys, i, i+1)
	}
}

// touchSession refreshes the denormalized last message and activity time.
func (c *Cache) touchSession(entry *sessionEntry, events *[]bus.Event) {
	next := entry.session
	next.LastMessage = ""
	if n := len(entry.keys); n > 0 {
		last := c.messages[entry.keys[n-1]]
		next.LastMessage = last.Key()
		if last.CreatedAt.After(next.LastActivityAt) {
			next.LastActivityAt = last.CreatedAt
		}
	}
	if next.LastMessage == entry.session.LastMessage && next.LastActivityAt.Equal(entry.session.LastActivityAt) {
		return
	}
	entry.session = next
	*events = append(*events, event(EventSessionUpserted, SessionChange{Session: next.Clone()}))
}

// RemoveMessage deletes a message by server id or correlation id.
func (c *Cache) RemoveMessage(idOrCorrelation string) bool {
	var events []bus.Event
	c.mu.Lock()
	m, ok := c.lookup(idOrCorrelation)
	if !ok {
		c.mu.Unlock()
		return false
	}
	c.remove(m)
	if entry, ok := c.sessions[m.SessionID]; ok {
		c.touchSession(entry, &events)
	}
	events = append(events, event(EventMessageRemoved, MessageChange{Kind: Removed, SessionID: m.SessionID, Key: m.Key(), Message: m}))
	c.mu.Unlock()

	c.publish(events)
	return true
}

func (c *Cache) lookup(idOrCorrelation string) (model.Message, bool) {
	if m, ok := c.messages[idOrCorrelation]; ok {
		return m, true
	}
	if k, ok := c.byCorrelation[idOrCorrelation]; ok {
		m, ok := c.messages[k]
		return m, ok
	}
	return model.Message{}, false
}

// Message returns a message by key, server id or correlation id.
func (c *Cache) Message(idOrCorrelation string) (model.Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lookup(idOrCorrelation)
}

// Messages returns a session's messages in thread order.
func (c *Cache) Messages(sessionID string) []model.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.sessions[sessionID]
	if !ok {
		return nil
	}
	out := make([]model.Message, 0, len(entry.keys))
	for _, k := range entry.keys {
		out = append(out, c.messages[k])
	}
	return out
}

// HasMessages reports whether any message of the session is cached.
func (c *Cache) HasMessages(sessionID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.sessions[sessionID]
	return ok && len(entry.keys) > 0
}

// LastMessage returns the newest message of a session, stubs included.
func (c *Cache) LastMessage(sessionID string) (model.Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.sessions[sessionID]
	if !ok || len(entry.keys) == 0 {
		return model.Message{}, false
	}
	return c.messages[entry.keys[len(entry.keys)-1]], true
}

// Newest returns the newest server-confirmed message of a session. It bounds
// catch-up fetches after a reconnect.
func (c *Cache) Newest(sessionID string) (model.Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.sessions[sessionID]
	if !ok {
		return model.Message{}, false
	}
	for i := len(entry.keys) - 1; i >= 0; i-- {
		if !model.IsLocalKey(entry.keys[i]) {
			return c.messages[entry.keys[i]], true
		}
	}
	return model.Message{}, false
}

// Oldest returns the oldest server-confirmed message of a session.
func (c *Cache) Oldest(sessionID string) (model.Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.sessions[sessionID]
	if !ok {
		return model.Message{}, false
	}
	for _, k := range entry.keys {
		if !model.IsLocalKey(k) {
			return c.messages[k], true
		}
	}
	return model.Message{}, false
}

// TransitionStub moves an unconfirmed stub from one delivery state to another
// as a single step. It only ever updates: ErrNoMessage when nothing is cached
// under idOrCorrelation, ErrWrongState when the record is not a stub in state
// from (a confirmed record included).
func (c *Cache) TransitionStub(idOrCorrelation string, from, to model.DeliveryState, errMsg string) (MessageChange, error) {
	c.mu.Lock()
	old, ok := c.lookup(idOrCorrelation)
	if !ok {
		c.mu.Unlock()
		return MessageChange{}, ErrNoMessage
	}
	if !old.IsStub() || old.State != from {
		c.mu.Unlock()
		return MessageChange{Kind: Unchanged, SessionID: old.SessionID, Key: old.Key(), Message: old}, ErrWrongState
	}
	next := old
	next.State = to
	next.Error = errMsg
	c.messages[next.Key()] = next
	change := MessageChange{Kind: Updated, SessionID: next.SessionID, Key: next.Key(), Message: next}
	c.mu.Unlock()

	c.publish([]bus.Event{event(EventMessageUpserted, change)})
	return change, nil
}
