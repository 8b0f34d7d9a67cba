package cache

import (
	"slices"
	"strings"

	"github.com/matheus3301/threadline/internal/model"
)

// UpsertUser merges u into the cache. Empty fields keep their cached value.
func (c *Cache) UpsertUser(u model.User) bool {
	if u.ID == "" {
		return false
	}
	c.mu.Lock()
	old, ok := c.users[u.ID]
	merged := old.Merge(u)
	merged.ID = u.ID
	if ok && merged == old {
		c.mu.Unlock()
		return false
	}
	c.users[u.ID] = merged
	c.mu.Unlock()

	c.bus.Emit(EventUserUpserted, UserChange{User: merged})
	return true
}

// SetPresence records a presence change, creating a minimal user if needed.
func (c *Cache) SetPresence(userID string, p model.Presence) bool {
	return c.UpsertUser(model.User{ID: userID, Presence: p})
}

// User returns a cached user.
func (c *Cache) User(id string) (model.User, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	u, ok := c.users[id]
	return u, ok
}

// Users returns all cached users sorted by name.
func (c *Cache) Users() []model.User {
	c.mu.RLock()
	out := make([]model.User, 0, len(c.users))
	for _, u := range c.users {
		out = append(out, u)
	}
	c.mu.RUnlock()
	slices.SortFunc(out, func(a, b model.User) int {
		if d := strings.Compare(strings.ToLower(a.Name()), strings.ToLower(b.Name())); d != 0 {
			return d
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}
