package marketplace

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventSink receives events after the operation that produced them commits.
type EventSink func(Event)

type sinkSet struct {
	mu    sync.Mutex
	sinks []EventSink
}

func (s *sinkSet) add(sink EventSink) {
	if sink == nil {
		return
	}
	s.mu.Lock()
	s.sinks = append(s.sinks, sink)
	s.mu.Unlock()
}

// publish stamps ids and forwards events to registered sinks.
func (s *sinkSet) publish(events []Event) {
	s.mu.Lock()
	sinks := append([]EventSink{}, s.sinks...)
	s.mu.Unlock()
	now := time.Now().UTC()
	for _, evt := range events {
		evt.ID = uuid.NewString()
		evt.CreatedAt = now
		if evt.Accounts == nil {
			evt.Accounts = []string{}
		}
		for _, sink := range sinks {
			sink(evt)
		}
	}
}
