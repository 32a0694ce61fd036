package chat

import (
	"sort"
	"sync"
	"time"

	"streamhub/internal/models"
)

// Presence tracks who is online. Local entries are keyed by connection so a
// user with several tabs has several entries; entries learned from other hub
// instances are keyed by origin and user id. Snapshots collapse both into one
// entry per user. Remote entries live only as long as their origin keeps
// announcing itself; see ExpireRemote.
type Presence struct {
	mu       sync.RWMutex
	local    map[*Client]models.PresenceEntry
	remote   map[string]map[string]models.PresenceEntry
	lastSeen map[string]time.Time
}

func NewPresence() *Presence {
	return &Presence{
		local:    make(map[*Client]models.PresenceEntry),
		remote:   make(map[string]map[string]models.PresenceEntry),
		lastSeen: make(map[string]time.Time),
	}
}

func (p *Presence) Add(c *Client, entry models.PresenceEntry) {
	p.mu.Lock()
	p.local[c] = entry
	p.mu.Unlock()
}

// Remove drops the entry for c and returns it.
func (p *Presence) Remove(c *Client) (models.PresenceEntry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.local[c]
	if ok {
		delete(p.local, c)
	}
	return entry, ok
}

func (p *Presence) AddRemote(origin string, entry models.PresenceEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remote[origin] == nil {
		p.remote[origin] = make(map[string]models.PresenceEntry)
	}
	p.remote[origin][entry.UserID] = entry
	p.lastSeen[origin] = time.Now()
}

func (p *Presence) RemoveRemote(origin, userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if users := p.remote[origin]; users != nil {
		delete(users, userID)
		if len(users) == 0 {
			delete(p.remote, origin)
			delete(p.lastSeen, origin)
			return
		}
		p.lastSeen[origin] = time.Now()
	}
}

// ReplaceRemote sets the full list of users connected to origin, as carried
// by its heartbeat, and records when origin was last heard from.
func (p *Presence) ReplaceRemote(origin string, entries []models.PresenceEntry, seen time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(entries) == 0 {
		delete(p.remote, origin)
		delete(p.lastSeen, origin)
		return
	}
	users := make(map[string]models.PresenceEntry, len(entries))
	for _, entry := range entries {
		if entry.UserID != "" {
			users[entry.UserID] = entry
		}
	}
	p.remote[origin] = users
	p.lastSeen[origin] = seen
}

// ExpireRemote drops every origin not heard from since cutoff and returns
// the dropped origins.
func (p *Presence) ExpireRemote(cutoff time.Time) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var expired []string
	for origin, seen := range p.lastSeen {
		if seen.Before(cutoff) {
			delete(p.lastSeen, origin)
			delete(p.remote, origin)
			expired = append(expired, origin)
		}
	}
	sort.Strings(expired)
	return expired
}

// LocalSnapshot returns one entry per user connected to this instance.
func (p *Presence) LocalSnapshot() []models.PresenceEntry {
	p.mu.RLock()
	byUser := make(map[string]models.PresenceEntry, len(p.local))
	for _, entry := range p.local {
		byUser[entry.UserID] = entry
	}
	p.mu.RUnlock()
	return sortedEntries(byUser)
}

// Snapshot returns one entry per online user ordered by username, then id.
func (p *Presence) Snapshot() []models.PresenceEntry {
	p.mu.RLock()
	byUser := make(map[string]models.PresenceEntry, len(p.local))
	for _, entry := range p.local {
		byUser[entry.UserID] = entry
	}
	for _, users := range p.remote {
		for id, entry := range users {
			if _, ok := byUser[id]; !ok {
				byUser[id] = entry
			}
		}
	}
	p.mu.RUnlock()
	return sortedEntries(byUser)
}

func sortedEntries(byUser map[string]models.PresenceEntry) []models.PresenceEntry {
	out := make([]models.PresenceEntry, 0, len(byUser))
	for _, entry := range byUser {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Username != out[j].Username {
			return out[i].Username < out[j].Username
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

// Len reports the number of distinct online users.
func (p *Presence) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	seen := make(map[string]struct{}, len(p.local))
	for _, entry := range p.local {
		seen[entry.UserID] = struct{}{}
	}
	for _, users := range p.remote {
		for id := range users {
			seen[id] = struct{}{}
		}
	}
	return len(seen)
}

// Online reports whether userID has a connection on this or any other
// instance.
func (p *Presence) Online(userID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.localCount(userID) > 0 {
		return true
	}
	for _, users := range p.remote {
		if _, ok := users[userID]; ok {
			return true
		}
	}
	return false
}

// LocalConnections counts the connections userID holds on this instance.
func (p *Presence) LocalConnections(userID string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.localCount(userID)
}

func (p *Presence) localCount(userID string) int {
	n := 0
	for _, entry := range p.local {
		if entry.UserID == userID {
			n++
		}
	}
	return n
}
