//go:build kafka

package sink

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/banshee-data/presence.report/internal/presence"
)

// KafkaAvailable reports whether the binary was built with Kafka support.
const KafkaAvailable = true

// KafkaSink publishes events as JSON, keyed by track id so one track's
// events stay ordered within a partition.
type KafkaSink struct {
	producer *kafka.Producer
	topic    string

	deliveries chan kafka.Event
	wg         sync.WaitGroup
	closeOnce  sync.Once

	sent   atomic.Uint64
	acked  atomic.Uint64
	failed atomic.Uint64
}

// NewKafkaSink connects a producer to brokers.
func NewKafkaSink(brokers, topic string) (*KafkaSink, error) {
	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":  brokers,
		"acks":               "all",
		"enable.idempotence": true,
		"linger.ms":          5,
		"compression.type":   "snappy",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	k := &KafkaSink{
		producer:   p,
		topic:      topic,
		deliveries: make(chan kafka.Event, 1024),
	}
	k.wg.Add(1)
	go k.handleDeliveryReports()
	diagf("kafka producer ready topic=%s brokers=%s", topic, brokers)
	return k, nil
}

func (k *KafkaSink) handleDeliveryReports() {
	defer k.wg.Done()
	for e := range k.deliveries {
		m, ok := e.(*kafka.Message)
		if !ok {
			continue
		}
		if m.TopicPartition.Error != nil {
			k.failed.Add(1)
			opsf("kafka delivery failed: %v", m.TopicPartition.Error)
			continue
		}
		k.acked.Add(1)
	}
}

// Write enqueues ev. Delivery failures surface asynchronously on the ops
// log; only local enqueue errors are returned.
func (k *KafkaSink) Write(ev presence.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	err = k.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &k.topic, Partition: kafka.PartitionAny},
		Key:            []byte(strconv.FormatInt(ev.TrackID, 10)),
		Value:          payload,
		Headers:        []kafka.Header{{Key: "kind", Value: []byte(ev.Kind)}},
	}, k.deliveries)
	if err != nil {
		return fmt.Errorf("produce %s event: %w", ev.Kind, err)
	}
	k.sent.Add(1)
	return nil
}

// Close flushes outstanding messages for up to five seconds.
func (k *KafkaSink) Close() error {
	k.closeOnce.Do(func() {
		if remaining := k.producer.Flush(5000); remaining > 0 {
			opsf("kafka close: %d messages not delivered", remaining)
		}
		k.producer.Close()
		close(k.deliveries)
		k.wg.Wait()
		diagf("kafka producer closed sent=%d acked=%d failed=%d", k.sent.Load(), k.acked.Load(), k.failed.Load())
	})
	return nil
}
