package store

import (
	"strings"
	"sync"

	"github.com/axmq/broker-core/topic"
)

// retainedTrieNode represents a node in the retained messages trie
type retainedTrieNode struct {
	children map[string]*retainedTrieNode
	message  *topic.RetainedMessage
	mu       sync.RWMutex
}

func newRetainedTrieNode() *retainedTrieNode {
	return &retainedTrieNode{
		children: make(map[string]*retainedTrieNode),
	}
}

// RetainedStore is a trie-indexed implementation of topic.RetainedStore.
// Lookups walk the filter level by level the same way subscription
// matching does, so '+' and '#' cost no more than a literal lookup.
type RetainedStore struct {
	mu     sync.RWMutex
	root   *retainedTrieNode
	count  int64
	closed bool
}

// NewRetainedStore creates an empty, in-memory retained-message trie.
func NewRetainedStore() *RetainedStore {
	return &RetainedStore{
		root: newRetainedTrieNode(),
	}
}

func splitRetainedTopicLevels(t string) []string {
	if len(t) == 0 {
		return []string{}
	}

	levels := make([]string, 0, 8)
	start := 0
	for i := 0; i < len(t); i++ {
		if t[i] == '/' {
			levels = append(levels, t[start:i])
			start = i + 1
		}
	}
	levels = append(levels, t[start:])
	return levels
}

// Set stores or replaces the retained message for topic. An empty payload
// clears it, per the MQTT 3.1.1 retained-message contract.
func (r *RetainedStore) Set(t string, payload []byte, qos byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrStoreClosed
	}

	if len(payload) == 0 {
		return r.deleteInternal(t)
	}

	levels := splitRetainedTopicLevels(t)
	node := r.root
	for _, level := range levels {
		node.mu.Lock()
		if node.children[level] == nil {
			node.children[level] = newRetainedTrieNode()
		}
		next := node.children[level]
		node.mu.Unlock()
		node = next
	}

	node.mu.Lock()
	if node.message == nil {
		r.count++
	}
	node.message = &topic.RetainedMessage{Topic: t, Payload: payload, QoS: qos}
	node.mu.Unlock()

	return nil
}

// Get returns the retained message stored for the exact topic t, if any.
func (r *RetainedStore) Get(t string) (*topic.RetainedMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, ErrStoreClosed
	}

	node := r.root
	for _, level := range splitRetainedTopicLevels(t) {
		node.mu.RLock()
		next := node.children[level]
		node.mu.RUnlock()
		if next == nil {
			return nil, ErrNotFound
		}
		node = next
	}

	node.mu.RLock()
	defer node.mu.RUnlock()
	if node.message == nil {
		return nil, ErrNotFound
	}
	return node.message, nil
}

// Delete removes the retained message stored for the exact topic t.
func (r *RetainedStore) Delete(t string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrStoreClosed
	}

	return r.deleteInternal(t)
}

// deleteInternal removes a retained message from the trie.
// Caller must hold r.mu.
func (r *RetainedStore) deleteInternal(t string) error {
	levels := splitRetainedTopicLevels(t)
	if len(levels) == 0 {
		return nil
	}

	path := make([]*retainedTrieNode, 0, len(levels)+1)
	path = append(path, r.root)
	node := r.root

	for _, level := range levels {
		node.mu.RLock()
		next := node.children[level]
		node.mu.RUnlock()
		if next == nil {
			return nil
		}
		path = append(path, next)
		node = next
	}

	node.mu.Lock()
	if node.message != nil {
		node.message = nil
		r.count--
	}
	node.mu.Unlock()

	for i := len(path) - 1; i > 0; i-- {
		current := path[i]
		parent := path[i-1]

		current.mu.RLock()
		isEmpty := current.message == nil && len(current.children) == 0
		current.mu.RUnlock()

		if !isEmpty {
			break
		}

		parent.mu.Lock()
		for key, child := range parent.children {
			if child == current {
				delete(parent.children, key)
				break
			}
		}
		parent.mu.Unlock()
	}

	return nil
}

// Match returns the retained messages whose topic matches filter.
func (r *RetainedStore) Match(filter string) ([]topic.RetainedMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, ErrStoreClosed
	}

	if strings.HasPrefix(filter, "$") {
		if strings.Contains(filter, "#") || strings.Contains(filter, "+") {
			return nil, nil
		}
	}

	filterLevels := splitRetainedTopicLevels(filter)
	var matched []topic.RetainedMessage
	r.matchRecursive(r.root, filterLevels, 0, &matched)
	return matched, nil
}

func (r *RetainedStore) matchRecursive(node *retainedTrieNode, filterLevels []string, depth int, matched *[]topic.RetainedMessage) {
	node.mu.RLock()
	defer node.mu.RUnlock()

	if depth == len(filterLevels) {
		if node.message != nil {
			*matched = append(*matched, *node.message)
		}
		return
	}

	filterLevel := filterLevels[depth]

	if filterLevel == "#" {
		if depth == 0 {
			if node.message != nil {
				*matched = append(*matched, *node.message)
			}
			for levelName, child := range node.children {
				if strings.HasPrefix(levelName, "$") {
					continue
				}
				child.mu.RLock()
				r.collectAll(child, matched)
				child.mu.RUnlock()
			}
			return
		}
		r.collectAll(node, matched)
		return
	}

	if filterLevel == "+" {
		for levelName, child := range node.children {
			if depth == 0 && strings.HasPrefix(levelName, "$") {
				continue
			}
			r.matchRecursive(child, filterLevels, depth+1, matched)
		}
		return
	}

	if child := node.children[filterLevel]; child != nil {
		r.matchRecursive(child, filterLevels, depth+1, matched)
	}
}

// collectAll recursively collects all messages from a node and its
// descendants. The caller must already hold node.mu.
func (r *RetainedStore) collectAll(node *retainedTrieNode, matched *[]topic.RetainedMessage) {
	if node.message != nil {
		*matched = append(*matched, *node.message)
	}

	for _, child := range node.children {
		child.mu.RLock()
		r.collectAll(child, matched)
		child.mu.RUnlock()
	}
}

// Count returns the total number of retained messages held.
func (r *RetainedStore) Count() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// Close closes the store.
func (r *RetainedStore) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrStoreClosed
	}

	r.closed = true
	r.root = nil
	r.count = 0
	return nil
}
