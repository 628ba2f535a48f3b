package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Job outcomes as recorded in metrics.
const (
	outcomeDone    = "done"
	outcomeDropped = "dropped"
	outcomeRetry   = "retry"
)

// ConsumerConfig configures a Consumer.
type ConsumerConfig struct {
	ProjectID    string
	Subscription string
	Jobs         *JobHandler
	Logger       zerolog.Logger

	// MaxOutstanding bounds messages in flight (default: 100).
	MaxOutstanding int

	// MeterProvider defaults to the global provider.
	MeterProvider metric.MeterProvider
}

// Consumer receives job messages from a Pub/Sub subscription.
//
// Publishers set the trip ID as the ordering key, so with message ordering
// enabled on the subscription the jobs of one trip arrive in publish order.
type Consumer struct {
	client       *pubsub.Client
	subscriber   *pubsub.Subscriber
	subscription string
	jobs         *JobHandler
	logger       zerolog.Logger

	processed metric.Int64Counter
	duration  metric.Float64Histogram
}

// delivery is the part of a Pub/Sub message a job needs.
type delivery struct {
	id          string
	orderingKey string
	published   time.Time
	attempt     int
	data        []byte
}

// NewConsumer connects to Pub/Sub.
func NewConsumer(ctx context.Context, cfg ConsumerConfig) (*Consumer, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	c, err := newConsumer(cfg)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	c.client = client
	c.subscriber = client.Subscriber(cfg.Subscription)
	c.subscriber.ReceiveSettings.MaxOutstandingMessages = c.maxOutstanding(cfg)
	c.subscriber.ReceiveSettings.MaxExtension = 2 * time.Minute
	return c, nil
}

func newConsumer(cfg ConsumerConfig) (*Consumer, error) {
	mp := cfg.MeterProvider
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter("github.com/breatheroute/navcore/internal/worker")

	processed, err := meter.Int64Counter("worker.jobs",
		metric.WithDescription("Job messages handled, by type and outcome"))
	if err != nil {
		return nil, fmt.Errorf("creating job counter: %w", err)
	}
	duration, err := meter.Float64Histogram("worker.job.duration",
		metric.WithDescription("Time spent handling a job message"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("creating job histogram: %w", err)
	}

	return &Consumer{
		subscription: cfg.Subscription,
		jobs:         cfg.Jobs,
		logger:       cfg.Logger.With().Str("subscription", cfg.Subscription).Logger(),
		processed:    processed,
		duration:     duration,
	}, nil
}

func (c *Consumer) maxOutstanding(cfg ConsumerConfig) int {
	if cfg.MaxOutstanding > 0 {
		return cfg.MaxOutstanding
	}
	return 100
}

// Run receives messages until ctx is done.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info().Msg("receiving jobs")

	return c.subscriber.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		d := delivery{
			id:          msg.ID,
			orderingKey: msg.OrderingKey,
			published:   msg.PublishTime,
			data:        msg.Data,
		}
		if msg.DeliveryAttempt != nil {
			d.attempt = *msg.DeliveryAttempt
		}
		if c.process(ctx, d) {
			msg.Ack()
			return
		}
		msg.Nack()
	})
}

// Close closes the Pub/Sub client.
func (c *Consumer) Close() error {
	return c.client.Close()
}

// process handles one delivery and reports whether to ack it. Jobs that can
// never succeed are acked so they are not redelivered.
func (c *Consumer) process(ctx context.Context, d delivery) bool {
	start := time.Now()
	log := c.logger.With().
		Str("message_id", d.id).
		Str("ordering_key", d.orderingKey).
		Logger()
	if d.attempt > 1 {
		log = log.With().Int("delivery_attempt", d.attempt).Logger()
	}
	if lag := start.Sub(d.published); !d.published.IsZero() && lag > time.Minute {
		log.Warn().Dur("lag", lag).Msg("job delivered late")
	}
	c.checkOrdering(log, d)

	jobType, err := c.jobs.Handle(ctx, d.data)
	outcome := outcomeDone
	switch {
	case err == nil:
		log.Debug().Str("job_type", jobType).Dur("duration", time.Since(start)).Msg("job done")
	case Permanent(err):
		outcome = outcomeDropped
		log.Warn().Err(err).Str("job_type", jobType).Msg("dropping job")
	default:
		outcome = outcomeRetry
		log.Error().Err(err).Str("job_type", jobType).Msg("job failed")
	}

	if jobType == "" {
		jobType = "unknown"
	}
	attrs := metric.WithAttributes(
		attribute.String("job_type", jobType),
		attribute.String("outcome", outcome),
	)
	mctx := context.WithoutCancel(ctx)
	c.processed.Add(mctx, 1, attrs)
	c.duration.Record(mctx, time.Since(start).Seconds(), attrs)

	return outcome != outcomeRetry
}

// checkOrdering warns when a job is published under another trip's ordering
// key, since its order relative to that trip's other jobs is then lost.
func (c *Consumer) checkOrdering(log zerolog.Logger, d delivery) {
	var head struct {
		TripID string `json:"trip_id"`
	}
	if json.Unmarshal(d.data, &head) != nil || head.TripID == "" {
		return
	}
	if d.orderingKey != head.TripID {
		log.Warn().Str("trip_id", head.TripID).Msg("job ordering key does not match its trip")
	}
}
