package broker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"docflow/internal/config"
	"docflow/internal/logging"
)

const (
	defaultStreamName = "DOCFLOW_STAGES"
	subjectPrefix     = "docflow.stage"
)

func stageSubject(stage string) string {
	return subjectPrefix + "." + stage
}

// JetStreamBroker backs the stage queues with a NATS JetStream work
// queue stream. Each stage gets a durable pull consumer filtered to its
// subject, so any number of worker processes can compete for jobs.
type JetStreamBroker struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	stream jetstream.Stream
	logger *slog.Logger

	streamName string
	ackWait    time.Duration
	maxDeliver int

	mu        sync.Mutex
	consumers []jetstream.ConsumeContext
}

// NewJetStream connects to NATS, ensures the stage stream exists, and
// returns a broker ready for Enqueue and Consume.
func NewJetStream(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*JetStreamBroker, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	log := logging.NewComponentLogger(logger, "broker")

	url := cfg.Broker.URL
	if url == "" {
		url = nats.DefaultURL
	}
	nc, err := nats.Connect(
		url,
		nats.ReconnectWait(time.Second),
		nats.PingInterval(20*time.Second),
		nats.MaxPingsOutstanding(5),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("nats disconnected", logging.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", logging.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats at %s: %w", url, err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	b := &JetStreamBroker{
		nc:         nc,
		js:         js,
		logger:     log,
		streamName: cfg.Broker.StreamName,
		ackWait:    cfg.LeaseTimeout(),
		maxDeliver: cfg.Retry.MaxAttempts + 1,
	}
	if b.streamName == "" {
		b.streamName = defaultStreamName
	}
	if b.ackWait <= 0 {
		b.ackWait = 30 * time.Second
	}

	if err := b.ensureStream(ctx); err != nil {
		nc.Close()
		return nil, err
	}
	return b, nil
}

func (b *JetStreamBroker) ensureStream(ctx context.Context) error {
	cfg := jetstream.StreamConfig{
		Name:      b.streamName,
		Subjects:  []string{subjectPrefix + ".>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.WorkQueuePolicy,
	}
	stream, err := b.js.Stream(ctx, b.streamName)
	if err != nil {
		if err != jetstream.ErrStreamNotFound {
			return fmt.Errorf("get stream %s: %w", b.streamName, err)
		}
		stream, err = b.js.CreateStream(ctx, cfg)
		if err != nil {
			return fmt.Errorf("create stream %s: %w", b.streamName, err)
		}
	}
	b.stream = stream
	return nil
}

// Enqueue publishes a job to its stage subject.
func (b *JetStreamBroker) Enqueue(ctx context.Context, job Job) error {
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	data, err := job.ToJSON()
	if err != nil {
		return fmt.Errorf("serialize job: %w", err)
	}
	if _, err := b.js.Publish(ctx, stageSubject(job.Stage), data); err != nil {
		return fmt.Errorf("publish to %s: %w", stageSubject(job.Stage), err)
	}
	return nil
}

// Consume creates or updates a durable consumer for the stage subject
// and delivers jobs to fn until the broker closes. The job's Attempt is
// taken from JetStream's delivery count, so broker redeliveries after a
// worker crash count the same as explicit retries.
func (b *JetStreamBroker) Consume(ctx context.Context, stage string, fn Handler) error {
	durable := "docflow-" + strings.ReplaceAll(stage, "_", "-")
	consumer, err := b.stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          durable,
		Durable:       durable,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		AckWait:       b.ackWait,
		MaxDeliver:    b.maxDeliver,
		FilterSubject: stageSubject(stage),
	})
	if err != nil {
		return fmt.Errorf("create consumer for %s: %w", stage, err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		b.handleMsg(ctx, stage, fn, msg)
	}, jetstream.ConsumeErrHandler(func(_ jetstream.ConsumeContext, err error) {
		b.logger.Warn("consume error", logging.String(logging.FieldStage, stage), logging.Error(err))
	}))
	if err != nil {
		return fmt.Errorf("start consuming %s: %w", stage, err)
	}

	b.mu.Lock()
	b.consumers = append(b.consumers, cc)
	b.mu.Unlock()
	return nil
}

func (b *JetStreamBroker) handleMsg(ctx context.Context, stage string, fn Handler, msg jetstream.Msg) {
	var job Job
	if err := job.FromJSON(msg.Data()); err != nil {
		b.logger.Error("unparseable job payload",
			logging.String(logging.FieldStage, stage),
			logging.Error(err))
		_ = msg.Term()
		return
	}
	if meta, err := msg.Metadata(); err == nil {
		job.Attempt = int(meta.NumDelivered)
	} else if job.Attempt <= 0 {
		job.Attempt = 1
	}

	decision := fn(ctx, job)
	switch decision.Action {
	case Retry:
		if decision.Delay > 0 {
			_ = msg.NakWithDelay(decision.Delay)
		} else {
			_ = msg.Nak()
		}
	case Drop:
		b.logger.Warn("terminating job",
			logging.String(logging.FieldWorkflowID, job.WorkflowID),
			logging.String(logging.FieldStage, stage),
			logging.Int("attempt", job.Attempt))
		_ = msg.Term()
	default:
		_ = msg.Ack()
	}
}

// Close stops all consumers and drops the NATS connection.
func (b *JetStreamBroker) Close() error {
	b.mu.Lock()
	consumers := b.consumers
	b.consumers = nil
	b.mu.Unlock()
	for _, cc := range consumers {
		cc.Stop()
	}
	if b.nc != nil && !b.nc.IsClosed() {
		b.nc.Close()
	}
	return nil
}
