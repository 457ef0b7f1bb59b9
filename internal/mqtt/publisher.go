package mqtt

import (
	"context"
	"time"

	"github.com/tphakala/emotion-go/internal/datastore"
	"github.com/tphakala/emotion-go/internal/logger"
)

const (
	defaultQueueSize  = 64
	maxConnectBackoff = 5 * time.Minute
)

// Publisher sends detection events from a bounded queue. Enqueue never
// blocks the caller; events are dropped when the queue is full.
type Publisher struct {
	client Client
	topic  string
	source string
	queue  chan datastore.Detection
}

// NewPublisher returns a Publisher for client. source is the "source"
// field of every payload, usually the instance name.
func NewPublisher(client Client, topic, source string) *Publisher {
	return &Publisher{
		client: client,
		topic:  topic,
		source: source,
		queue:  make(chan datastore.Detection, defaultQueueSize),
	}
}

// Enqueue schedules d for publishing. It reports false when the event was
// dropped.
func (p *Publisher) Enqueue(d datastore.Detection) bool {
	select {
	case p.queue <- d:
		return true
	default:
		GetLogger().Warn("mqtt queue full, dropping detection event",
			logger.Uint64("detection_id", uint64(d.ID)))
		return false
	}
}

// PublishDetection publishes d immediately.
func (p *Publisher) PublishDetection(ctx context.Context, d *datastore.Detection) error {
	payload, err := NewDetectionEventDTO(d, p.source).Marshal()
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, p.topic, payload)
}

// Run connects and publishes queued events until ctx is cancelled, then
// disconnects. Failed connects are retried with backoff.
func (p *Publisher) Run(ctx context.Context) error {
	log := GetLogger()
	defer p.client.Disconnect()

	if !p.connect(ctx) {
		return nil
	}
	log.Info("mqtt publisher started", logger.String("topic", p.topic))

	for {
		select {
		case <-ctx.Done():
			return nil
		case d := <-p.queue:
			pubCtx, cancel := context.WithTimeout(ctx, DefaultConfig().PublishTimeout)
			err := p.PublishDetection(pubCtx, &d)
			cancel()
			if err != nil {
				log.Warn("failed to publish detection",
					logger.Uint64("detection_id", uint64(d.ID)),
					logger.Error(err))
			}
		}
	}
}

// connect retries Connect until it succeeds or ctx is done.
func (p *Publisher) connect(ctx context.Context) bool {
	backoff := DefaultConfig().ReconnectCooldown
	for {
		err := p.client.Connect(ctx)
		if err == nil {
			return true
		}
		GetLogger().Warn("mqtt connect failed",
			logger.Error(err),
			logger.Duration("retry_in", backoff))

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
		backoff = min(backoff*2, maxConnectBackoff)
	}
}
