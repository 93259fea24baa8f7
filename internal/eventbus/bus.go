// Package eventbus is a topic-keyed pub/sub on which the orchestrator
// publishes scan events, so subscribers need no references into the
// orchestrator's internals.
package eventbus

import (
	"context"
	"sync"
)

type Topic string

const (
	// TopicDiscovered fires once per host that resolved to a live,
	// non-wildcard answer. Data is a DiscoveredEvent.
	TopicDiscovered Topic = "discovered"

	// TopicResolverDisabled fires when the resolver pool ejects an
	// endpoint for sustained failures. Data is a ResolverEvent.
	TopicResolverDisabled Topic = "resolver_disabled"

	// TopicRoundBoundary fires after each predictor round completes.
	// Data is a RoundEvent.
	TopicRoundBoundary Topic = "round_boundary"
)

type DiscoveredEvent struct {
	Host    string
	Records int
}

type ResolverEvent struct {
	Addr string
}

type RoundEvent struct {
	Round int
	Seeds int
}

type Event struct {
	Topic Topic
	Data  interface{}
}

type Subscriber struct {
	Ch   <-chan Event
	stop context.CancelFunc
}

// Bus is a topic-keyed, best-effort pub/sub. Slow subscribers drop
// events rather than block publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[Topic][]chan Event
	buf  int
}

func New(buf int) *Bus {
	return &Bus{subs: make(map[Topic][]chan Event), buf: buf}
}

func (b *Bus) Publish(topic Topic, data interface{}) {
	b.mu.RLock()
	chs := b.subs[topic]
	b.mu.RUnlock()
	for _, ch := range chs {
		select {
		case ch <- Event{Topic: topic, Data: data}:
		default:
		}
	}
}

func (b *Bus) Subscribe(ctx context.Context, topic Topic) *Subscriber {
	ch := make(chan Event, b.buf)
	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], ch)
	b.mu.Unlock()

	cctx, cancel := context.WithCancel(ctx)
	go func() {
		<-cctx.Done()
		b.mu.Lock()
		subs := b.subs[topic]
		for i, c := range subs {
			if c == ch {
				b.subs[topic] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		b.mu.Unlock()
		close(ch)
	}()
	return &Subscriber{Ch: ch, stop: cancel}
}

func (s *Subscriber) Close() {
	if s.stop != nil {
		s.stop()
	}
}
