// Package bus defines the message-bus payloads and the subscribe/publish
// contracts the workers run against. The transport is ZeroMQ in production
// (see zmq.go); tests substitute channel-backed fakes.
package bus

import (
	"encoding/json"
	"fmt"

	"github.com/pushkindt/pushkind-hedwig/internal/models"
)

// Subscriber is the sender's end of the job bus. Recv blocks until a
// payload arrives; a transport error is fatal to the worker.
type Subscriber interface {
	Recv() ([]byte, error)
	Close() error
}

// Publisher is the monitor's end of the event bus. It must be safe for
// concurrent use; publish failures are best-effort for callers.
type Publisher interface {
	Publish(v any) error
	Close() error
}

// RetryEmailJob asks the sender to retransmit an existing email to its
// not-yet-sent recipients.
type RetryEmailJob struct {
	EmailID int32
	HubID   int32
}

// NewEmailJob asks the sender to insert a new email and deliver it.
type NewEmailJob struct {
	Payload models.NewEmailPayload
}

// Job is one decoded payload from the job bus: exactly one of Retry or New
// is non-nil.
//
// The wire shape is an externally-tagged one-entry object:
//
//	{"RetryEmail": [<email_id>, <hub_id>]}
//	{"NewEmail":   [<user>, {...new_email...}]}
//
// The NewEmail user element is accepted and discarded.
type Job struct {
	Retry *RetryEmailJob
	New   *NewEmailJob
}

func (j *Job) UnmarshalJSON(data []byte) error {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(data, &envelope); err != nil {
		return err
	}

	if raw, ok := envelope["RetryEmail"]; ok {
		var pair [2]int32
		if err := json.Unmarshal(raw, &pair); err != nil {
			return fmt.Errorf("RetryEmail payload: %w", err)
		}
		j.Retry = &RetryEmailJob{EmailID: pair[0], HubID: pair[1]}
		return nil
	}

	if raw, ok := envelope["NewEmail"]; ok {
		var pair [2]json.RawMessage
		if err := json.Unmarshal(raw, &pair); err != nil {
			return fmt.Errorf("NewEmail payload: %w", err)
		}
		var payload models.NewEmailPayload
		if err := json.Unmarshal(pair[1], &payload); err != nil {
			return fmt.Errorf("NewEmail payload: %w", err)
		}
		j.New = &NewEmailJob{Payload: payload}
		return nil
	}

	return fmt.Errorf("unknown job variant")
}

// ReplyMessage is published when an inbound message correlates to a
// recipient. Message holds the extracted reply text and may be empty.
type ReplyMessage struct {
	HubID   int32   `json:"hub_id"`
	Email   string  `json:"email"`
	Message string  `json:"message"`
	Subject *string `json:"subject"`
}

// UnsubscribeMessage is published when an inbound message classifies as an
// unsubscribe or bounce.
type UnsubscribeMessage struct {
	HubID  int32   `json:"hub_id"`
	Email  string  `json:"email"`
	Reason *string `json:"reason"`
}
