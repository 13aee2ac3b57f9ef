// Package queue implements the durable dispatch queue over NATS JetStream.
// Translation, batch, and validation work travels through named streams;
// messages that overflow a stream or exhaust their delivery budget land in
// the dead-letter stream with a reason header instead of disappearing.
//
// Priority rides in the message headers end to end but does not affect
// pickup order: JetStream consumers drain each stream in arrival order,
// so priority is advisory metadata for handlers and dead-letter triage.
// Ordering by priority band would need a subject (and consumer) per band.
package queue

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/rulebridge/rulebridge/errors"
)

// Queue names a dispatch queue.
type Queue string

const (
	QueueTranslation Queue = "translation"
	QueueBatch       Queue = "batch"
	QueueValidation  Queue = "validation"
	QueueDeadLetter  Queue = "dead-letter"
)

// workQueues are the queues that accept work; the dead-letter queue only
// receives from the others.
var workQueues = []Queue{QueueTranslation, QueueBatch, QueueValidation}

// Valid reports whether q names a publishable work queue.
func (q Queue) Valid() bool {
	switch q {
	case QueueTranslation, QueueBatch, QueueValidation:
		return true
	}
	return false
}

// Stream and subject naming. Each work queue owns one stream capturing
// "rulebridge.<queue>.>"; dead letters go to "rulebridge.dlq.<queue>".
const subjectRoot = "rulebridge"

func (q Queue) streamName() string {
	switch q {
	case QueueTranslation:
		return "TRANSLATION"
	case QueueBatch:
		return "BATCH"
	case QueueValidation:
		return "VALIDATION"
	case QueueDeadLetter:
		return "DEAD_LETTER"
	}
	return ""
}

func (q Queue) subjectPrefix() string {
	return fmt.Sprintf("%s.%s", subjectRoot, q)
}

// RequestSubject is the publish subject for this queue.
func (q Queue) RequestSubject() string {
	return fmt.Sprintf("%s.%s.requests", subjectRoot, q)
}

func deadLetterSubject(origin Queue) string {
	return fmt.Sprintf("%s.dlq.%s", subjectRoot, origin)
}

// Headers carries message metadata outside the payload.
type Headers struct {
	RequestID string    `json:"request_id"`
	UserID    string    `json:"user_id,omitempty"`
	Priority  int       `json:"priority,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// QueueMessage is the envelope every dispatched unit of work travels in.
type QueueMessage struct {
	ID       string          `json:"id"`
	Subject  string          `json:"subject,omitempty"`
	Headers  Headers         `json:"headers"`
	Body     json.RawMessage `json:"body"`
	Attempts int             `json:"attempts"`
}

// NewMessage builds an envelope around body with a fresh ID and timestamp.
func NewMessage(requestID string, body json.RawMessage) QueueMessage {
	return QueueMessage{
		ID: uuid.NewString(),
		Headers: Headers{
			RequestID: requestID,
			Timestamp: time.Now().UTC(),
		},
		Body: body,
	}
}

// NATS header keys for the envelope metadata.
const (
	hdrMessageID        = "Rb-Message-Id"
	hdrRequestID        = "Rb-Request-Id"
	hdrUserID           = "Rb-User-Id"
	hdrPriority         = "Rb-Priority"
	hdrTimestamp        = "Rb-Timestamp"
	hdrDeadLetterReason = "Rb-Dlq-Reason"
	hdrDeadLetterOrigin = "Rb-Dlq-Origin"
)

// toNATS renders the envelope as a NATS message on subject.
func (m QueueMessage) toNATS(subject string) *nats.Msg {
	msg := nats.NewMsg(subject)
	msg.Data = m.Body
	msg.Header.Set(hdrMessageID, m.ID)
	msg.Header.Set(hdrRequestID, m.Headers.RequestID)
	if m.Headers.UserID != "" {
		msg.Header.Set(hdrUserID, m.Headers.UserID)
	}
	if m.Headers.Priority != 0 {
		msg.Header.Set(hdrPriority, strconv.Itoa(m.Headers.Priority))
	}
	msg.Header.Set(hdrTimestamp, m.Headers.Timestamp.Format(time.RFC3339Nano))
	// JetStream deduplicates on Nats-Msg-Id within the stream's window.
	msg.Header.Set("Nats-Msg-Id", m.ID)
	return msg
}

// decodeMessage rebuilds the envelope from wire headers and data.
func decodeMessage(subject string, header nats.Header, data []byte, attempts int) (QueueMessage, error) {
	id := header.Get(hdrMessageID)
	requestID := header.Get(hdrRequestID)
	if id == "" || requestID == "" {
		return QueueMessage{}, fmt.Errorf("%w: missing envelope headers", errors.ErrMalformedEnvelope)
	}

	m := QueueMessage{
		ID:      id,
		Subject: subject,
		Headers: Headers{
			RequestID: requestID,
			UserID:    header.Get(hdrUserID),
		},
		Body:     data,
		Attempts: attempts,
	}

	if p := header.Get(hdrPriority); p != "" {
		priority, err := strconv.Atoi(p)
		if err != nil {
			return QueueMessage{}, fmt.Errorf("%w: bad priority %q", errors.ErrMalformedEnvelope, p)
		}
		m.Headers.Priority = priority
	}
	if ts := header.Get(hdrTimestamp); ts != "" {
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return QueueMessage{}, fmt.Errorf("%w: bad timestamp %q", errors.ErrMalformedEnvelope, ts)
		}
		m.Headers.Timestamp = parsed
	}

	return m, nil
}
