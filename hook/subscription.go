package hook

import "github.com/axmq/broker-core/packet"

// SubscriptionHandler performs the subscription-tree write a connection
// processor upcalls into once it learns its attached session must register
// or release topic filters. Implementations are expected to delegate to the
// topic package's subscription tree.
type SubscriptionHandler interface {
	AddSubscriptions(clientID string, filters []packet.TopicFilterQoS) error
	RemoveSubscriptions(clientID string, filters []string) error
}
