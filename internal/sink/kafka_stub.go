//go:build !kafka

package sink

import "github.com/banshee-data/presence.report/internal/presence"

// KafkaAvailable reports whether the binary was built with Kafka support.
const KafkaAvailable = false

// KafkaSink is a placeholder used when building without the kafka tag.
type KafkaSink struct{}

func NewKafkaSink(brokers, topic string) (*KafkaSink, error) {
	return nil, ErrKafkaUnavailable
}

func (k *KafkaSink) Write(presence.Event) error { return ErrKafkaUnavailable }
func (k *KafkaSink) Close() error               { return nil }
