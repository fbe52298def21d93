package bridge

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMemoryPresenceJoinIsIdempotent(t *testing.T) {
	p := NewMemoryPresence()
	p.Join("#movies", "alice")
	p.Join("#movies", "bob")
	p.Join("#movies", "alice")

	assert.Equal(t, []string{"alice", "bob"}, p.Names("#movies"))
}

func TestMemoryPresenceLeave(t *testing.T) {
	p := NewMemoryPresence()
	p.Join("#movies", "alice")
	p.Join("#movies", "bob")
	p.Join("#movies", "carol")

	p.Leave("#movies", "bob")
	p.Leave("#movies", "nobody")
	p.Leave("#unknown", "alice")

	assert.Equal(t, []string{"alice", "carol"}, p.Names("#movies"))
	assert.Empty(t, p.Names("#unknown"))
}

func TestMemoryPresenceNamesReturnsCopy(t *testing.T) {
	p := NewMemoryPresence()
	p.Join("#movies", "alice")

	names := p.Names("#movies")
	names[0] = "mallory"

	assert.Equal(t, []string{"alice"}, p.Names("#movies"))
}

func TestMemoryPresenceTracksCurrentMembers(t *testing.T) {
	users := []string{"alice", "bob", "carol", "dave", "erin"}
	rnd := rand.New(rand.NewSource(42))

	for run := 0; run < 50; run++ {
		p := NewMemoryPresence()
		want := map[string]bool{}
		for step := 0; step < 100; step++ {
			user := users[rnd.Intn(len(users))]
			if rnd.Intn(2) == 0 {
				p.Join("#c", user)
				want[user] = true
			} else {
				p.Leave("#c", user)
				delete(want, user)
			}
		}

		got := p.Names("#c")
		seen := map[string]bool{}
		for _, u := range got {
			assert.False(t, seen[u], "run %d: duplicate %s in %v", run, u, got)
			seen[u] = true
		}
		assert.Equal(t, want, seen, "run %d", run)
	}
}

func TestMemoryPresenceConcurrentJoins(t *testing.T) {
	p := NewMemoryPresence()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				p.Join("#c", fmt.Sprintf("user%d", j))
			}
		}(i)
	}
	wg.Wait()

	names := p.Names("#c")
	sort.Strings(names)
	assert.Len(t, names, 10)
	assert.Equal(t, "user0", names[0])
}

func TestRenameUser(t *testing.T) {
	p := NewMemoryPresence()
	p.Join("#c", "alice")
	p.Join("#c", "bob")

	renameUser(p, "#c", "alice", "alicia")
	assert.Equal(t, []string{"bob", "alicia"}, p.Names("#c"))

	renameUser(p, "#c", "bob", "alicia")
	assert.Equal(t, []string{"alicia"}, p.Names("#c"))
}
