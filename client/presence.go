package client

import (
	"fmt"
	"sort"
	"sync"

	"secure-room/common"
)

// PresenceEntry is one rendered row of the presence panel.
type PresenceEntry struct {
	User   string
	Status common.PresenceStatus
}

// PresenceTracker mirrors the relay's last presence snapshot.
type PresenceTracker struct {
	localUser string

	mu    sync.Mutex
	users map[string]common.PresenceInfo
}

func NewPresenceTracker(localUser string) *PresenceTracker {
	return &PresenceTracker{localUser: localUser, users: map[string]common.PresenceInfo{}}
}

// Apply replaces the whole map with snapshot and returns the sorted list and the typing
// summary as seen by the local user.
func (p *PresenceTracker) Apply(snapshot map[string]common.PresenceInfo) ([]PresenceEntry, string) {
	users := make(map[string]common.PresenceInfo, len(snapshot))
	for u, info := range snapshot {
		users[u] = info
	}

	p.mu.Lock()
	p.users = users
	p.mu.Unlock()

	entries := make([]PresenceEntry, 0, len(users))
	var typists []string
	for u, info := range users {
		entries = append(entries, PresenceEntry{User: u, Status: info.Status})
		if info.Status == common.StatusTyping && u != p.localUser {
			typists = append(typists, u)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].User < entries[j].User })

	return entries, TypingSummary(typists)
}

// Others lists users in the current snapshot other than the local user.
func (p *PresenceTracker) Others() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var others []string
	for u := range p.users {
		if u != p.localUser {
			others = append(others, u)
		}
	}
	sort.Strings(others)
	return others
}

func TypingSummary(typists []string) string {
	sorted := append([]string(nil), typists...)
	sort.Strings(sorted)

	switch len(sorted) {
	case 0:
		return ""
	case 1:
		return fmt.Sprintf("%s is typing...", sorted[0])
	case 2:
		return fmt.Sprintf("%s and %s are typing...", sorted[0], sorted[1])
	default:
		return "Multiple people are typing..."
	}
}
