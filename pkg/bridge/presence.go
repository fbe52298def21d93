package bridge

import "sync"

// PresenceStore tracks which usernames are considered joined to each channel.
// Implementations must be safe for concurrent use.
type PresenceStore interface {
	// Join adds user to the channel roster if absent.
	Join(channel, user string)
	// Leave removes user from the channel roster. No-op when absent.
	Leave(channel, user string)
	// Names returns the roster of channel in insertion order.
	Names(channel string) []string
}

// MemoryPresence is the in-process PresenceStore.
type MemoryPresence struct {
	mu      sync.RWMutex
	rosters map[string][]string
}

// NewMemoryPresence returns an empty in-memory roster store.
func NewMemoryPresence() *MemoryPresence {
	return &MemoryPresence{
		rosters: make(map[string][]string),
	}
}

func (p *MemoryPresence) Join(channel, user string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, u := range p.rosters[channel] {
		if u == user {
			return
		}
	}
	p.rosters[channel] = append(p.rosters[channel], user)
}

func (p *MemoryPresence) Leave(channel, user string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	roster, ok := p.rosters[channel]
	if !ok {
		return
	}
	kept := roster[:0]
	for _, u := range roster {
		if u != user {
			kept = append(kept, u)
		}
	}
	p.rosters[channel] = kept
}

func (p *MemoryPresence) Names(channel string) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	roster := p.rosters[channel]
	names := make([]string, len(roster))
	copy(names, roster)
	return names
}

// renameUser replaces oldName with newName in the roster of channel, keeping
// the store free of duplicates.
func renameUser(store PresenceStore, channel, oldName, newName string) {
	store.Leave(channel, oldName)
	store.Join(channel, newName)
}
