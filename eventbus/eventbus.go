// Package eventbus publishes dispatcher lifecycle events (build request
// complete and unclaimed) for other masters and status consumers to
// observe, per spec §6 "Status/event bus".
package eventbus

import "context"

// RoutingKey addresses an event the way Buildbot's status MQ does: a tuple
// of increasingly specific path segments, e.g.
// {"buildrequest", "7", "3", "42", "complete"}.
type RoutingKey []string

// Event is a published message: a routing key plus an opaque JSON-able
// payload.
type Event struct {
	Key     RoutingKey
	Payload interface{}
}

// Bus is the collaborator CompletionHandler publishes through.
type Bus interface {
	Publish(ctx context.Context, evt Event) error
}

// Subscriber is implemented by bus backends that support consumption, for
// status watchers and tests.
type Subscriber interface {
	Subscribe(ctx context.Context, keyPrefix RoutingKey) (<-chan Event, func(), error)
}
