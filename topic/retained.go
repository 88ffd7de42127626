package topic

// RetainedStore is the storage seam for retained PUBLISH messages. The
// subscription tree itself has no opinion on retained-message replay
// policy — replacing a topic's retained message, clearing it, and matching
// it against a new subscriber's filter are all implemented by whatever
// RetainedStore the connection processor is configured with (see
// processor.Deps.Retained).
//
// NopRetainedStore is the zero-configuration default: it accepts every
// call and reports no messages, for embedders that don't want retained
// message replay at all.
type RetainedStore interface {
	// Set stores or replaces the retained message for topic. An empty
	// payload clears it, per the MQTT 3.1.1 retained-message contract.
	Set(topic string, payload []byte, qos byte) error

	// Match returns the retained messages whose topic matches filter.
	Match(filter string) ([]RetainedMessage, error)
}

// RetainedMessage is a stored retained PUBLISH payload.
type RetainedMessage struct {
	Topic   string
	Payload []byte
	QoS     byte
}

// NopRetainedStore implements RetainedStore by discarding every Set and
// matching nothing. It is the default until an embedder wires in a real
// store.
type NopRetainedStore struct{}

func (NopRetainedStore) Set(topic string, payload []byte, qos byte) error { return nil }

func (NopRetainedStore) Match(filter string) ([]RetainedMessage, error) { return nil, nil }
