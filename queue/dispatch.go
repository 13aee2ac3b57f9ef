package queue

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/rulebridge/rulebridge/errors"
	"github.com/rulebridge/rulebridge/metric"
	"github.com/rulebridge/rulebridge/pkg/retry"
)

// Config holds dispatch queue settings.
type Config struct {
	// URL is the NATS server address.
	URL string

	// MaxReconnects caps connection attempts; once exhausted publishes
	// fail with ErrQueueUnavailable instead of buffering. Default 5.
	MaxReconnects int

	// MessageTTL is how long undelivered messages survive in a stream.
	// Default 1h.
	MessageTTL time.Duration

	// MaxLen caps stream depth; publishes beyond it are rejected and
	// dead-lettered. Default 100000.
	MaxLen int64

	// MaxDeliver is the per-message delivery budget before dead-lettering.
	// Default 5.
	MaxDeliver int
}

func (c Config) withDefaults() Config {
	if c.URL == "" {
		c.URL = nats.DefaultURL
	}
	if c.MaxReconnects <= 0 {
		c.MaxReconnects = 5
	}
	if c.MessageTTL <= 0 {
		c.MessageTTL = time.Hour
	}
	if c.MaxLen <= 0 {
		c.MaxLen = 100_000
	}
	if c.MaxDeliver <= 0 {
		c.MaxDeliver = 5
	}
	return c
}

// QueueStatus is a point-in-time view of one queue.
type QueueStatus struct {
	Messages  uint64
	Consumers int
}

// PublishOptions tunes a single publish.
type PublishOptions struct {
	// Persistent selects JetStream delivery; false publishes fire-and-
	// forget over core NATS (used for advisory traffic only).
	Persistent bool
	// Priority is carried in the envelope for consumers that care.
	Priority int
}

// Handler processes one dispatched message. Returning nil acknowledges
// it; an error schedules redelivery until the delivery budget runs out.
type Handler func(ctx context.Context, msg QueueMessage) error

// Dispatch is the durable queue facade over JetStream.
type Dispatch struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metric.Metrics

	mu     sync.RWMutex
	conn   *nats.Conn
	js     jetstream.JetStream
	closed atomic.Bool

	consumersMu sync.Mutex
	consumers   map[string]jetstream.ConsumeContext
}

// DispatchOption configures a Dispatch.
type DispatchOption func(*Dispatch)

// WithDispatchLogger sets the queue logger.
func WithDispatchLogger(l *slog.Logger) DispatchOption {
	return func(d *Dispatch) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithDispatchMetrics enables publish/consume/dead-letter instrumentation.
func WithDispatchMetrics(m *metric.Metrics) DispatchOption {
	return func(d *Dispatch) { d.metrics = m }
}

// NewDispatch builds an unconnected dispatch queue.
func NewDispatch(cfg Config, opts ...DispatchOption) *Dispatch {
	d := &Dispatch{
		cfg:       cfg.withDefaults(),
		logger:    slog.Default(),
		consumers: make(map[string]jetstream.ConsumeContext),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Connect dials NATS with bounded backoff and provisions the streams.
// Exhausting the attempt budget fails with ErrQueueUnavailable.
func (d *Dispatch) Connect(ctx context.Context) error {
	if d.closed.Load() {
		return errors.WrapInfra(errors.ErrShuttingDown, "queue", "Connect", "dial broker")
	}

	var conn *nats.Conn
	err := retry.Do(ctx, retry.Reconnect(d.cfg.MaxReconnects), func() error {
		var dialErr error
		conn, dialErr = nats.Connect(d.cfg.URL,
			nats.MaxReconnects(d.cfg.MaxReconnects),
			nats.ReconnectWait(500*time.Millisecond),
			nats.Timeout(5*time.Second),
			nats.DrainTimeout(10*time.Second),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				if err != nil {
					d.logger.Warn("queue connection lost", "error", err)
				}
			}),
			nats.ReconnectHandler(func(c *nats.Conn) {
				d.logger.Info("queue reconnected", "url", c.ConnectedUrl())
			}),
		)
		if dialErr != nil {
			d.logger.Warn("queue dial failed", "url", d.cfg.URL, "error", dialErr)
		}
		return dialErr
	})
	if err != nil {
		return errors.WrapInfra(
			fmt.Errorf("%w: %v", errors.ErrQueueUnavailable, err),
			"queue", "Connect", "dial broker")
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return errors.WrapInfra(err, "queue", "Connect", "initialize jetstream")
	}

	d.mu.Lock()
	d.conn = conn
	d.js = js
	d.mu.Unlock()

	if err := d.ensureStreams(ctx); err != nil {
		d.Close(ctx)
		return err
	}

	d.logger.Info("dispatch queue connected", "url", d.cfg.URL)
	return nil
}

// ensureStreams provisions the work streams and the dead-letter stream.
// Work streams discard new messages at capacity so overflow is an explicit
// publish failure rather than silent eviction of queued work.
func (d *Dispatch) ensureStreams(ctx context.Context) error {
	js := d.jetstream()
	if js == nil {
		return errors.WrapInfra(errors.ErrNotConnected, "queue", "ensureStreams", "get jetstream")
	}

	for _, q := range workQueues {
		_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
			Name:      q.streamName(),
			Subjects:  []string{q.subjectPrefix() + ".>"},
			Retention: jetstream.WorkQueuePolicy,
			MaxAge:    d.cfg.MessageTTL,
			MaxMsgs:   d.cfg.MaxLen,
			Discard:   jetstream.DiscardNew,
			Storage:   jetstream.FileStorage,
		})
		if err != nil {
			return errors.WrapInfra(err, "queue", "ensureStreams", "create stream "+q.streamName())
		}
	}

	// Dead letters are kept for inspection, not consumption order, and are
	// never discarded for being new.
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     QueueDeadLetter.streamName(),
		Subjects: []string{subjectRoot + ".dlq.>"},
		MaxAge:   7 * 24 * time.Hour,
		Storage:  jetstream.FileStorage,
	})
	if err != nil {
		return errors.WrapInfra(err, "queue", "ensureStreams", "create dead-letter stream")
	}
	return nil
}

// Publish appends msg to the named queue. Stream overflow dead-letters
// the message and reports the failure to the caller.
func (d *Dispatch) Publish(ctx context.Context, q Queue, msg QueueMessage, opts PublishOptions) error {
	if !q.Valid() {
		return errors.WrapInput(
			fmt.Errorf("unknown queue %q", q),
			"queue", "Publish", "resolve queue")
	}
	if msg.ID == "" || msg.Headers.RequestID == "" {
		return errors.WrapInput(
			fmt.Errorf("%w: message id and request id are required", errors.ErrMalformedEnvelope),
			"queue", "Publish", "validate envelope")
	}
	if opts.Priority != 0 {
		msg.Headers.Priority = opts.Priority
	}

	subject := msg.Subject
	if subject == "" {
		subject = q.RequestSubject()
	}
	wire := msg.toNATS(subject)

	if !opts.Persistent {
		conn := d.connection()
		if conn == nil || !conn.IsConnected() {
			return d.unavailable("Publish", errors.ErrNotConnected)
		}
		if err := conn.PublishMsg(wire); err != nil {
			return d.unavailable("Publish", err)
		}
		d.recordPublished(q)
		return nil
	}

	js := d.jetstream()
	if js == nil {
		return d.unavailable("Publish", errors.ErrNotConnected)
	}

	_, err := js.PublishMsg(ctx, wire)
	if err != nil {
		if isStreamFull(err) {
			d.deadLetter(ctx, q, msg, "overflow")
			return errors.WrapInfra(
				fmt.Errorf("%w: stream %s at capacity", errors.ErrQueueUnavailable, q.streamName()),
				"queue", "Publish", "append to stream")
		}
		return d.unavailable("Publish", err)
	}

	d.recordPublished(q)
	return nil
}

// Status reports stream depth and consumer count for q.
func (d *Dispatch) Status(ctx context.Context, q Queue) (QueueStatus, error) {
	if !q.Valid() && q != QueueDeadLetter {
		return QueueStatus{}, errors.WrapInput(
			fmt.Errorf("unknown queue %q", q),
			"queue", "Status", "resolve queue")
	}
	js := d.jetstream()
	if js == nil {
		return QueueStatus{}, d.unavailable("Status", errors.ErrNotConnected)
	}

	stream, err := js.Stream(ctx, q.streamName())
	if err != nil {
		return QueueStatus{}, d.unavailable("Status", err)
	}
	info, err := stream.Info(ctx)
	if err != nil {
		return QueueStatus{}, d.unavailable("Status", err)
	}

	return QueueStatus{
		Messages:  info.State.Msgs,
		Consumers: info.State.Consumers,
	}, nil
}

// Purge drops all pending messages from q.
func (d *Dispatch) Purge(ctx context.Context, q Queue) error {
	if !q.Valid() && q != QueueDeadLetter {
		return errors.WrapInput(
			fmt.Errorf("unknown queue %q", q),
			"queue", "Purge", "resolve queue")
	}
	js := d.jetstream()
	if js == nil {
		return d.unavailable("Purge", errors.ErrNotConnected)
	}

	stream, err := js.Stream(ctx, q.streamName())
	if err != nil {
		return d.unavailable("Purge", err)
	}
	if err := stream.Purge(ctx); err != nil {
		return d.unavailable("Purge", err)
	}
	d.logger.Info("queue purged", "queue", string(q))
	return nil
}

// Consume attaches a durable handler to q. Messages are acknowledged only
// after the handler succeeds; failures are redelivered until the delivery
// budget runs out, then dead-lettered. Undecodable envelopes are
// dead-lettered immediately as poison.
func (d *Dispatch) Consume(ctx context.Context, q Queue, handler Handler) error {
	if !q.Valid() {
		return errors.WrapInput(
			fmt.Errorf("unknown queue %q", q),
			"queue", "Consume", "resolve queue")
	}
	if d.closed.Load() {
		return errors.WrapInfra(errors.ErrShuttingDown, "queue", "Consume", "register consumer")
	}
	js := d.jetstream()
	if js == nil {
		return d.unavailable("Consume", errors.ErrNotConnected)
	}

	consumer, err := js.CreateOrUpdateConsumer(ctx, q.streamName(), jetstream.ConsumerConfig{
		Durable:    "workers-" + string(q),
		AckPolicy:  jetstream.AckExplicitPolicy,
		MaxDeliver: d.cfg.MaxDeliver,
	})
	if err != nil {
		return d.unavailable("Consume", err)
	}

	consumeCtx, err := consumer.Consume(func(msg jetstream.Msg) {
		d.handleDelivery(ctx, q, msg, handler)
	})
	if err != nil {
		return d.unavailable("Consume", err)
	}

	d.consumersMu.Lock()
	defer d.consumersMu.Unlock()
	if d.closed.Load() {
		consumeCtx.Stop()
		return errors.WrapInfra(errors.ErrShuttingDown, "queue", "Consume", "register consumer")
	}
	if old, ok := d.consumers[string(q)]; ok {
		old.Stop()
	}
	d.consumers[string(q)] = consumeCtx
	return nil
}

// handleDelivery runs one delivery through the handler and settles it.
func (d *Dispatch) handleDelivery(ctx context.Context, q Queue, msg jetstream.Msg, handler Handler) {
	attempts := 1
	meta, metaErr := msg.Metadata()
	if metaErr == nil {
		attempts = int(meta.NumDelivered)
	}

	envelope, err := decodeMessage(msg.Subject(), msg.Headers(), msg.Data(), attempts)
	if err != nil {
		// Poison: no amount of redelivery fixes a bad envelope.
		d.logger.Error("malformed envelope, dead-lettering",
			"queue", string(q), "error", err)
		d.deadLetterRaw(ctx, q, msg.Headers(), msg.Data(), "malformed")
		d.recordConsumed(q, "poison")
		msg.Ack()
		return
	}

	if err := handler(ctx, envelope); err != nil {
		if attempts >= d.cfg.MaxDeliver {
			d.logger.Error("delivery budget exhausted, dead-lettering",
				"queue", string(q), "message_id", envelope.ID,
				"attempts", attempts, "error", err)
			d.deadLetter(ctx, q, envelope, "max_deliver")
			d.recordConsumed(q, "dead_lettered")
			msg.Ack()
			return
		}
		d.logger.Warn("handler failed, scheduling redelivery",
			"queue", string(q), "message_id", envelope.ID,
			"attempt", attempts, "error", err)
		d.recordConsumed(q, "retry")
		msg.Nak()
		return
	}

	d.recordConsumed(q, "success")
	msg.Ack()
}

// deadLetter republishes a decoded envelope to the dead-letter stream.
func (d *Dispatch) deadLetter(ctx context.Context, origin Queue, msg QueueMessage, reason string) {
	wire := msg.toNATS(deadLetterSubject(origin))
	wire.Header.Set(hdrDeadLetterReason, reason)
	wire.Header.Set(hdrDeadLetterOrigin, string(origin))
	// Dedupe id must differ from the original publish or JetStream drops it.
	wire.Header.Set("Nats-Msg-Id", msg.ID+":dlq")
	d.publishDeadLetter(ctx, origin, wire, reason)
}

// deadLetterRaw forwards an undecodable delivery verbatim.
func (d *Dispatch) deadLetterRaw(ctx context.Context, origin Queue, header nats.Header, data []byte, reason string) {
	wire := nats.NewMsg(deadLetterSubject(origin))
	wire.Data = data
	for k, vs := range header {
		for _, v := range vs {
			wire.Header.Add(k, v)
		}
	}
	wire.Header.Set(hdrDeadLetterReason, reason)
	wire.Header.Set(hdrDeadLetterOrigin, string(origin))
	wire.Header.Del("Nats-Msg-Id")
	d.publishDeadLetter(ctx, origin, wire, reason)
}

func (d *Dispatch) publishDeadLetter(ctx context.Context, origin Queue, wire *nats.Msg, reason string) {
	js := d.jetstream()
	if js == nil {
		d.logger.Error("cannot dead-letter, not connected",
			"queue", string(origin), "reason", reason)
		return
	}
	if _, err := js.PublishMsg(ctx, wire); err != nil {
		d.logger.Error("dead-letter publish failed",
			"queue", string(origin), "reason", reason, "error", err)
		return
	}
	if d.metrics != nil {
		d.metrics.RecordDeadLettered(string(origin), reason)
	}
}

// IsConnected reports broker reachability.
func (d *Dispatch) IsConnected() bool {
	conn := d.connection()
	return conn != nil && conn.IsConnected()
}

// Close stops consumers and drains the connection so in-flight handlers
// finish before the process exits.
func (d *Dispatch) Close(_ context.Context) error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}

	d.consumersMu.Lock()
	for name, c := range d.consumers {
		c.Stop()
		delete(d.consumers, name)
	}
	d.consumersMu.Unlock()

	d.mu.Lock()
	conn := d.conn
	d.conn = nil
	d.js = nil
	d.mu.Unlock()

	if conn == nil {
		return nil
	}
	if err := conn.Drain(); err != nil {
		conn.Close()
		return errors.WrapInfra(err, "queue", "Close", "drain connection")
	}
	return nil
}

func (d *Dispatch) connection() *nats.Conn {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.conn
}

func (d *Dispatch) jetstream() jetstream.JetStream {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.js
}

func (d *Dispatch) unavailable(op string, err error) error {
	return errors.WrapInfra(
		fmt.Errorf("%w: %v", errors.ErrQueueUnavailable, err),
		"queue", op, "reach broker")
}

func (d *Dispatch) recordPublished(q Queue) {
	if d.metrics != nil {
		d.metrics.RecordPublished(string(q))
	}
}

func (d *Dispatch) recordConsumed(q Queue, status string) {
	if d.metrics != nil {
		d.metrics.RecordConsumed(string(q), status)
	}
}

// isStreamFull matches the JetStream errors produced by DiscardNew limits.
func isStreamFull(err error) bool {
	if stderrors.Is(err, nats.ErrMaxMessages) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "maximum messages exceeded") ||
		strings.Contains(msg, "resource limits exceeded")
}
