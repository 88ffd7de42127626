package topic

import "github.com/axmq/broker-core/packet"

// subscriber is a single client's interest in the topic level a node
// represents.
type subscriber struct {
	ClientID string
	QoS      packet.QoS
}

// node is one level of the subscription tree. Nodes are immutable once
// published in a Snapshot: a Builder that needs to change a node's
// subscribers or children always allocates a new node and relinks it into
// the path from the root, leaving every node outside that path shared with
// whatever Snapshot came before.
//
// A '#' subscription is stored on the parent node as hashSubs, never as a
// literal or plus child, so the invariant "a '#' node has no children"
// holds by construction rather than by runtime check.
type node struct {
	children map[string]*node // literal level name -> child
	plus     *node            // '+' child, if any filter reaches through this level

	subs     map[string]subscriber                // plain subscribers rooted exactly at this level
	hashSubs map[string]subscriber                 // '#' subscribers rooted beneath this level
	shared   map[string]*SharedSubscriptionGroup    // plain shared-subscription groups rooted at this level
	hashShared map[string]*SharedSubscriptionGroup // '#' shared-subscription groups rooted beneath this level
}

// clone returns a shallow copy of n with its own top-level maps, so callers
// can mutate the copy's maps without disturbing n or anything sharing it.
func (n *node) clone() *node {
	if n == nil {
		n = &node{}
	}
	c := &node{
		children:   make(map[string]*node, len(n.children)),
		plus:       n.plus,
		subs:       make(map[string]subscriber, len(n.subs)),
		hashSubs:   make(map[string]subscriber, len(n.hashSubs)),
		shared:     make(map[string]*SharedSubscriptionGroup, len(n.shared)),
		hashShared: make(map[string]*SharedSubscriptionGroup, len(n.hashShared)),
	}
	for k, v := range n.children {
		c.children[k] = v
	}
	for k, v := range n.subs {
		c.subs[k] = v
	}
	for k, v := range n.hashSubs {
		c.hashSubs[k] = v
	}
	for k, v := range n.shared {
		c.shared[k] = v
	}
	for k, v := range n.hashShared {
		c.hashShared[k] = v
	}
	return c
}

func (n *node) isEmpty() bool {
	return len(n.children) == 0 && n.plus == nil &&
		len(n.subs) == 0 && len(n.hashSubs) == 0 &&
		len(n.shared) == 0 && len(n.hashShared) == 0
}
