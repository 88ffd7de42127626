package topic

import (
	"sync"
	"sync/atomic"

	"github.com/axmq/broker-core/packet"
)

// Snapshot is an immutable subscription tree. Reads against a Snapshot take
// no tree lock: every node reachable from the root is fixed for the
// lifetime of the Snapshot, so concurrent Match calls never race with each
// other or with a writer building the next Snapshot. Shared-subscription
// groups are the exception: a group is shared by pointer between
// Snapshots, Builders change its membership in place, and Match takes the
// group's own mutex to pick a member.
type Snapshot struct {
	root *node
}

// MatchResult is the outcome of matching a published topic against a
// Snapshot: the plain subscribers whose filter matched, and one resolved
// subscriber per matched shared-subscription group.
type MatchResult struct {
	Direct []subscriber
	Shared []subscriber
}

// Match walks topic's levels against the tree, taking the union of the
// literal, '+', and '#' branches at every level, per the usual MQTT
// wildcard matching rules: '+' matches exactly one level, '#' matches the
// remainder of the topic including zero levels.
func (s *Snapshot) Match(topic string) MatchResult {
	if s == nil || s.root == nil {
		return MatchResult{}
	}
	levels := splitTopicLevels(topic)

	var res MatchResult
	seen := make(map[string]bool)
	groupPicks := make(map[string]bool)

	var walk func(n *node, i int)
	walk = func(n *node, i int) {
		if n == nil {
			return
		}
		// '#' beneath this node matches the rest of topic unconditionally,
		// including when i == len(levels).
		for _, sub := range n.hashSubs {
			if !seen[sub.ClientID] {
				seen[sub.ClientID] = true
				res.Direct = append(res.Direct, sub)
			}
		}
		for name, grp := range n.hashShared {
			if groupPicks[name] {
				continue
			}
			groupPicks[name] = true
			if pick, ok := grp.Pick(); ok {
				res.Shared = append(res.Shared, pick)
			}
		}

		if i == len(levels) {
			for _, sub := range n.subs {
				if !seen[sub.ClientID] {
					seen[sub.ClientID] = true
					res.Direct = append(res.Direct, sub)
				}
			}
			for name, grp := range n.shared {
				if groupPicks[name] {
					continue
				}
				groupPicks[name] = true
				if pick, ok := grp.Pick(); ok {
					res.Shared = append(res.Shared, pick)
				}
			}
			return
		}

		level := levels[i]
		if child, ok := n.children[level]; ok {
			walk(child, i+1)
		}
		if n.plus != nil {
			walk(n.plus, i+1)
		}
	}

	walk(s.root, 0)
	return res
}

// Builder is a single-writer mutable view cloned from a Snapshot. Every
// mutation clones only the nodes on the path it touches; nodes outside that
// path are shared with the Snapshot the Builder was cloned from. Commit
// publishes the accumulated changes as a new Snapshot.
type Builder struct {
	root *node
}

func newBuilder(from *Snapshot) *Builder {
	var root *node
	if from != nil && from.root != nil {
		root = from.root
	} else {
		root = &node{}
	}
	return &Builder{root: root.clone()}
}

// Commit freezes the Builder's accumulated state into a new Snapshot. The
// Builder must not be used again afterwards.
func (b *Builder) Commit() *Snapshot {
	return &Snapshot{root: b.root}
}

// Subscribe adds clientID's interest in filter at the given QoS, cloning
// every node on the path from the root. filter must already be validated by
// ValidateTopicFilter.
func (b *Builder) Subscribe(filter string, clientID string, qos packet.QoS) error {
	levels := splitTopicLevels(filter)
	sub := subscriber{ClientID: clientID, QoS: qos}
	n, err := b.walkForWrite(levels)
	if err != nil {
		return err
	}
	last := levels[len(levels)-1]
	if last == "#" {
		n.hashSubs[clientID] = sub
	} else {
		n.subs[clientID] = sub
	}
	return nil
}

// SubscribeShared adds clientID to groupName's round-robin membership for
// filter.
func (b *Builder) SubscribeShared(groupName, filter, clientID string, qos packet.QoS) error {
	levels := splitTopicLevels(filter)
	n, err := b.walkForWrite(levels)
	if err != nil {
		return err
	}
	last := levels[len(levels)-1]
	table := n.shared
	if last == "#" {
		table = n.hashShared
	}
	grp, ok := table[groupName]
	if !ok {
		grp = NewSharedSubscriptionGroup(groupName, filter)
		table[groupName] = grp
	}
	grp.Add(clientID, qos)
	return nil
}

// Unsubscribe removes clientID's interest in filter, pruning any node left
// empty by the removal.
func (b *Builder) Unsubscribe(filter string, clientID string) {
	levels := splitTopicLevels(filter)
	b.root = removeAlong(b.root, levels, 0, func(n *node) {
		last := levels[len(levels)-1]
		if last == "#" {
			delete(n.hashSubs, clientID)
		} else {
			delete(n.subs, clientID)
		}
	})
}

// UnsubscribeShared removes clientID from groupName's membership for
// filter, dropping the group entirely once it has no members left.
func (b *Builder) UnsubscribeShared(groupName, filter, clientID string) {
	levels := splitTopicLevels(filter)
	b.root = removeAlong(b.root, levels, 0, func(n *node) {
		last := levels[len(levels)-1]
		table := n.shared
		if last == "#" {
			table = n.hashShared
		}
		if grp, ok := table[groupName]; ok {
			grp.Remove(clientID)
			if grp.Len() == 0 {
				delete(table, groupName)
			}
		}
	})
}

// UnsubscribeAll removes every subscription belonging to clientID anywhere
// in the tree, plain or shared.
func (b *Builder) UnsubscribeAll(clientID string) {
	b.root = pruneClient(b.root, clientID)
}

// walkForWrite clones and returns the node at the end of levels, creating
// any missing nodes along the way. It rejects inserting beneath an existing
// '#' node, per the "no children beneath '#'" invariant.
func (b *Builder) walkForWrite(levels []string) (*node, error) {
	cur := b.root
	for i, level := range levels {
		last := i == len(levels)-1
		if level == "#" {
			if !last {
				return nil, ErrInvalidTopicFilter
			}
			return cur, nil
		}
		if level == "+" {
			cur.plus = cur.plus.clone()
			cur = cur.plus
			continue
		}
		child := cur.children[level].clone()
		cur.children[level] = child
		cur = child
	}
	return cur, nil
}

// removeAlong clones the path down to levels' terminal node, applies fn
// there, then prunes any node left empty on the way back up.
func removeAlong(n *node, levels []string, i int, fn func(*node)) *node {
	if n == nil {
		return nil
	}
	c := n.clone()
	if i == len(levels) {
		fn(c)
		return c
	}
	level := levels[i]
	if level == "#" {
		fn(c)
		return c
	}
	if level == "+" {
		c.plus = removeAlong(c.plus, levels, i+1, fn)
		if c.plus != nil && c.plus.isEmpty() {
			c.plus = nil
		}
	} else if child, ok := c.children[level]; ok {
		updated := removeAlong(child, levels, i+1, fn)
		if updated == nil || updated.isEmpty() {
			delete(c.children, level)
		} else {
			c.children[level] = updated
		}
	}
	return c
}

// pruneClient clones and rebuilds the whole subtree rooted at n, dropping
// every subscription belonging to clientID and any node left empty by that
// removal.
func pruneClient(n *node, clientID string) *node {
	if n == nil {
		return nil
	}
	c := n.clone()
	delete(c.subs, clientID)
	delete(c.hashSubs, clientID)
	for name, grp := range c.shared {
		grp.Remove(clientID)
		if grp.Len() == 0 {
			delete(c.shared, name)
		}
	}
	for name, grp := range c.hashShared {
		grp.Remove(clientID)
		if grp.Len() == 0 {
			delete(c.hashShared, name)
		}
	}
	for level, child := range c.children {
		updated := pruneClient(child, clientID)
		if updated == nil || updated.isEmpty() {
			delete(c.children, level)
		} else {
			c.children[level] = updated
		}
	}
	if c.plus != nil {
		c.plus = pruneClient(c.plus, clientID)
		if c.plus != nil && c.plus.isEmpty() {
			c.plus = nil
		}
	}
	return c
}

// Manager owns the current Snapshot and serializes writers. Readers call
// Current and never block; writers call Update, which runs under a mutex
// so concurrent subscribe/unsubscribe calls never race building two
// Builders from the same starting Snapshot.
type Manager struct {
	mu      sync.Mutex
	current atomic.Pointer[Snapshot]
}

// NewManager returns a Manager with an empty initial Snapshot.
func NewManager() *Manager {
	m := &Manager{}
	m.current.Store(&Snapshot{root: (*node)(nil).clone()})
	return m
}

// Current returns the Snapshot in effect right now. The returned Snapshot
// never changes underneath the caller even if Update runs concurrently.
func (m *Manager) Current() *Snapshot {
	return m.current.Load()
}

// Update serializes against other writers, builds a Builder from the
// Snapshot in effect when Update acquires the writer lock, runs fn against
// it, and atomically publishes the result as the new current Snapshot. fn
// returning an error aborts the update: the current Snapshot is unchanged.
func (m *Manager) Update(fn func(b *Builder) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b := newBuilder(m.current.Load())
	if err := fn(b); err != nil {
		return err
	}
	m.current.Store(b.Commit())
	return nil
}

