// Package sink delivers presence events to durable logs and live
// subscribers.
//
// Delivery is at-most-once: a failed write is reported to the caller and
// never retried.
package sink

import (
	"errors"

	"github.com/banshee-data/presence.report/internal/presence"
)

// ErrKafkaUnavailable is returned when the binary was built without Kafka.
var ErrKafkaUnavailable = errors.New("kafka sink not available: rebuild with -tags kafka")

// Sink receives events in emission order. Write is called from a single
// goroutine.
type Sink interface {
	Write(ev presence.Event) error
	Close() error
}

// Multi fans every event out to all sinks.
type Multi []Sink

// Write attempts every sink and joins their errors.
func (m Multi) Write(ev presence.Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink and joins their errors.
func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Func adapts a function to Sink with a no-op Close.
type Func func(ev presence.Event) error

func (f Func) Write(ev presence.Event) error { return f(ev) }
func (f Func) Close() error                  { return nil }
