// Package queue carries "an issue was published" hints from publishers to
// delivery workers. The delivery queue table stays the source of truth; a
// lost hint only delays a worker until its next poll.
package queue

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Queue is a topic based publish/subscribe transport.
type Queue interface {
	Publish(topic string, payload []byte) error
	Subscribe(topic string, handler func(payload []byte) error) error
	Close() error
}

// InMemoryQueue fans messages out to in-process subscribers with a small
// retry budget per handler. Used when no broker is configured and in tests.
type InMemoryQueue struct {
	mu         sync.Mutex
	handlers   map[string][]func(payload []byte) error
	log        zerolog.Logger
	maxRetries int
	retryDelay time.Duration
}

func NewInMemoryQueue(log zerolog.Logger) *InMemoryQueue {
	return &InMemoryQueue{
		handlers:   make(map[string][]func(payload []byte) error),
		log:        log,
		maxRetries: 3,
		retryDelay: 500 * time.Millisecond,
	}
}

type job struct {
	topic      string
	payload    []byte
	retryCount int
}

// Publish hands payload to every subscriber of topic.
func (q *InMemoryQueue) Publish(topic string, payload []byte) error {
	q.mu.Lock()
	handlers := append([]func([]byte) error(nil), q.handlers[topic]...)
	q.mu.Unlock()

	if len(handlers) == 0 {
		return fmt.Errorf("no subscribers for topic %s", topic)
	}

	for _, handler := range handlers {
		go q.processJob(handler, job{topic: topic, payload: payload})
	}
	return nil
}

func (q *InMemoryQueue) processJob(handler func(payload []byte) error, j job) {
	for {
		err := handler(j.payload)
		if err == nil {
			return
		}

		j.retryCount++
		q.log.Warn().Err(err).Str("topic", j.topic).Int("attempt", j.retryCount).Msg("⚠️ queue handler failed")
		if j.retryCount > q.maxRetries {
			q.log.Error().Str("topic", j.topic).Int("attempts", j.retryCount).Msg("queue message dropped")
			return
		}
		time.Sleep(time.Duration(j.retryCount) * q.retryDelay)
	}
}

func (q *InMemoryQueue) Subscribe(topic string, handler func(payload []byte) error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.handlers[topic] = append(q.handlers[topic], handler)
	return nil
}

func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.handlers = make(map[string][]func(payload []byte) error)
	return nil
}
