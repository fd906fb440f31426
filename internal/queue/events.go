package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type issuePublished struct {
	IssueID uuid.UUID `json:"issue_id"`
}

// IssueEvents publishes issue notifications on Topic.
type IssueEvents struct {
	Queue Queue
	Topic string
}

// IssuePublished announces issueID. Callers treat failures as non-fatal.
func (e *IssueEvents) IssuePublished(_ context.Context, issueID uuid.UUID) error {
	payload, err := json.Marshal(issuePublished{IssueID: issueID})
	if err != nil {
		return err
	}
	return e.Queue.Publish(e.Topic, payload)
}

// Wakeups subscribes to topic and returns a channel that receives a signal
// whenever an issue is announced. Signals coalesce while nobody is reading.
func Wakeups(q Queue, topic string, log zerolog.Logger) (<-chan struct{}, error) {
	wake := make(chan struct{}, 1)
	err := q.Subscribe(topic, func(payload []byte) error {
		var ev issuePublished
		if err := json.Unmarshal(payload, &ev); err != nil {
			log.Warn().Err(err).Msg("ignoring malformed issue event")
			return nil
		}
		log.Debug().Stringer("issue_id", ev.IssueID).Msg("📩 issue published, waking worker")
		select {
		case wake <- struct{}{}:
		default:
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return wake, nil
}
