package mapper

import (
	"fmt"
	"reflect"

	"github.com/getpup/pupflow/es"
)

// Registry is an explicit topic registry: a reverse lookup table from
// stored topic strings to event constructors, populated at startup.
// Nothing is derived from type names at runtime.
//
// Registry is not safe for concurrent mutation; register all topics before
// handing it to a Mapper.
type Registry struct {
	constructors map[string]func() es.DomainEvent
	topics       map[reflect.Type]string
}

// NewRegistry creates an empty topic registry.
func NewRegistry() *Registry {
	return &Registry{
		constructors: make(map[string]func() es.DomainEvent),
		topics:       make(map[reflect.Type]string),
	}
}

// RegisterEvent binds a topic string to an event constructor.
// The constructor must return a pointer to a fresh zero event.
// Registering the same topic or the same event type twice panics:
// a duplicate registration is a programming error.
func (r *Registry) RegisterEvent(topic string, construct func() es.DomainEvent) {
	if _, ok := r.constructors[topic]; ok {
		panic(fmt.Sprintf("mapper: topic %q registered twice", topic))
	}
	typ := reflect.TypeOf(construct())
	if existing, ok := r.topics[typ]; ok {
		panic(fmt.Sprintf("mapper: event type %s already registered as %q", typ, existing))
	}
	r.constructors[topic] = construct
	r.topics[typ] = topic
}

// TopicOf returns the registered topic for the event's concrete type.
func (r *Registry) TopicOf(event es.DomainEvent) (string, error) {
	topic, ok := r.topics[reflect.TypeOf(event)]
	if !ok {
		return "", fmt.Errorf("mapper: no topic registered for event type %T", event)
	}
	return topic, nil
}

// New constructs a fresh event instance for the given topic.
func (r *Registry) New(topic string) (es.DomainEvent, error) {
	construct, ok := r.constructors[topic]
	if !ok {
		return nil, fmt.Errorf("mapper: no constructor registered for topic %q", topic)
	}
	return construct(), nil
}
