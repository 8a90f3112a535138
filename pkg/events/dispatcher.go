package events

import (
	"sync"

	"github.com/robinjoseph08/golib/logger"
)

// Dispatcher fans events out to subscribers over buffered channels. A
// subscriber that falls behind has events dropped, never queued unbounded.
type Dispatcher struct {
	log logger.Logger

	mu    sync.RWMutex
	subs  []chan Event
	depth int
}

func NewDispatcher(depth int) *Dispatcher {
	if depth <= 0 {
		depth = 64
	}
	return &Dispatcher{
		log:   logger.New(),
		depth: depth,
	}
}

// Subscribe returns a channel that receives future events. The channel is
// closed by Close.
func (d *Dispatcher) Subscribe() <-chan Event {
	ch := make(chan Event, d.depth)

	d.mu.Lock()
	d.subs = append(d.subs, ch)
	d.mu.Unlock()

	return ch
}

func (d *Dispatcher) Publish(event Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, ch := range d.subs {
		select {
		case ch <- event:
		default:
			d.log.Warn("event dropped for slow subscriber", logger.Data{
				"type":        event.Type,
				"sync_job_id": event.SyncJobID,
			})
		}
	}
}

func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, ch := range d.subs {
		close(ch)
	}
	d.subs = nil
}

// LogSink writes every event to the structured log.
type LogSink struct {
	log logger.Logger
}

func NewLogSink() *LogSink {
	return &LogSink{log: logger.New()}
}

func (s *LogSink) Publish(event Event) {
	data := logger.Data{
		"sync_job_id": event.SyncJobID,
		"provider_id": event.ProviderID,
	}
	for k, v := range event.Data {
		data[k] = v
	}
	s.log.Info(event.Type, data)
}

// MultiSink publishes to every sink in order.
type MultiSink []Sink

func (m MultiSink) Publish(event Event) {
	for _, s := range m {
		s.Publish(event)
	}
}
