package processor

import (
	"github.com/axmq/broker-core/packet"
	"github.com/axmq/broker-core/topic"
)

// treeSubscriptionHandler adapts a topic.Manager to hook.SubscriptionHandler:
// the upcall a processor makes once it learns its attached session must
// register or release topic filters (spec.md §6). It is the only writer
// path into the subscription tree; the processor itself only reads the tree
// (Current().Match when publishing).
type treeSubscriptionHandler struct {
	tree *topic.Manager
}

func newTreeSubscriptionHandler(tree *topic.Manager) *treeSubscriptionHandler {
	return &treeSubscriptionHandler{tree: tree}
}

// AddSubscriptions registers clientID's interest in every filter, each at
// its requested QoS, as a single tree-manager commit.
func (h *treeSubscriptionHandler) AddSubscriptions(clientID string, filters []packet.TopicFilterQoS) error {
	return h.tree.Update(func(b *topic.Builder) error {
		for _, f := range filters {
			if topic.IsSharedSubscription(f.Filter) {
				group, plainFilter, err := topic.ValidateSharedSubscription(f.Filter)
				if err != nil {
					return err
				}
				if err := b.SubscribeShared(group, plainFilter, clientID, f.QoS); err != nil {
					return err
				}
				continue
			}
			if err := b.Subscribe(f.Filter, clientID, f.QoS); err != nil {
				return err
			}
		}
		return nil
	})
}

// RemoveSubscriptions releases clientID's interest in every named filter as
// a single tree-manager commit.
func (h *treeSubscriptionHandler) RemoveSubscriptions(clientID string, filters []string) error {
	return h.tree.Update(func(b *topic.Builder) error {
		for _, filter := range filters {
			if topic.IsSharedSubscription(filter) {
				group, plainFilter, err := topic.ValidateSharedSubscription(filter)
				if err != nil {
					continue
				}
				b.UnsubscribeShared(group, plainFilter, clientID)
				continue
			}
			b.Unsubscribe(filter, clientID)
		}
		return nil
	})
}
