package topic

import "errors"

var (
	// ErrInvalidTopicFilter reports a wildcard used anywhere other than as
	// an entire level, or a '#' that is not the final level.
	ErrInvalidTopicFilter = errors.New("invalid topic filter")

	// ErrInvalidWildcardInTopic reports a topic name (as opposed to a
	// filter) containing '+' or '#'.
	ErrInvalidWildcardInTopic = errors.New("invalid wildcard in topic name")

	// ErrInvalidQoSLevel reports a requested subscribe QoS outside {0,1,2}.
	ErrInvalidQoSLevel = errors.New("invalid qos level")

	// ErrWildcardBeneathMultiLevel reports an attempt to insert a child
	// beneath an existing '#' node, which by invariant has no children.
	ErrWildcardBeneathMultiLevel = errors.New("cannot insert beneath a multi-level wildcard node")
)
