package topic

import (
	"sync"

	"github.com/axmq/broker-core/packet"
)

// SharedSubscriptionGroup holds the round-robin membership of a
// "$share/<group>/<filter>" subscription: every member receives an equal
// share of matching messages instead of every member receiving every
// message, as a plain (non-shared) subscription would.
type SharedSubscriptionGroup struct {
	name   string
	filter string

	mu      sync.Mutex
	order   []string
	members map[string]subscriber
	next    int
}

// NewSharedSubscriptionGroup returns an empty group for name/filter.
func NewSharedSubscriptionGroup(name, filter string) *SharedSubscriptionGroup {
	return &SharedSubscriptionGroup{
		name:    name,
		filter:  filter,
		members: make(map[string]subscriber),
	}
}

// Add enrolls clientID in the group at qos, or updates its QoS if already a
// member.
func (g *SharedSubscriptionGroup) Add(clientID string, qos packet.QoS) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.members[clientID]; !ok {
		g.order = append(g.order, clientID)
	}
	g.members[clientID] = subscriber{ClientID: clientID, QoS: qos}
}

// Remove drops clientID from the group.
func (g *SharedSubscriptionGroup) Remove(clientID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.members[clientID]; !ok {
		return
	}
	delete(g.members, clientID)
	for i, id := range g.order {
		if id == clientID {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
	if g.next >= len(g.order) {
		g.next = 0
	}
}

// Len reports the current membership count.
func (g *SharedSubscriptionGroup) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.order)
}

// Pick returns the next member in round-robin order. It reports false if
// the group has no members.
func (g *SharedSubscriptionGroup) Pick() (subscriber, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.order) == 0 {
		return subscriber{}, false
	}
	id := g.order[g.next%len(g.order)]
	g.next++
	return g.members[id], true
}

// Name returns the group's "$share" group name.
func (g *SharedSubscriptionGroup) Name() string { return g.name }

// Filter returns the topic filter the group subscribes to.
func (g *SharedSubscriptionGroup) Filter() string { return g.filter }
