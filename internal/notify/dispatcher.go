// Package notify delivers guest notifications off the request path.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tableside/internal/config"
	"tableside/internal/metrics"
	"tableside/internal/models"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Kind is the notification type.
type Kind string

const (
	KindTableReady   Kind = "table_ready"
	KindCapacityWait Kind = "capacity_wait"
	KindReminder     Kind = "reminder"
)

// Message is a rendered notification.
type Message struct {
	Kind      Kind
	Owner     int64
	Code      string
	Recipient string
	ChatID    int64
	Text      string
}

// Directory resolves who a reservation belongs to.
type Directory interface {
	ReservationByID(ctx context.Context, id int64) (*models.Reservation, error)
	ActivityByReservation(ctx context.Context, reservationID int64) (*models.Activity, error)
	SubscriberByUsername(ctx context.Context, username string) (*models.Subscriber, error)
}

// RetryConfig controls redelivery of failed sends.
type RetryConfig struct {
	MaxRetries  int
	RetryDelays []time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:  3,
		RetryDelays: []time.Duration{1 * time.Second, 5 * time.Second, 30 * time.Second},
	}
}

type Config struct {
	Workers       int
	QueueSize     int
	RatePerSecond float64
	Burst         int
	SendTimeout   time.Duration
	Retry         RetryConfig
}

func NewConfig(c config.NotifyConfig) Config {
	return Config{
		Workers:       c.Workers,
		QueueSize:     c.QueueSize,
		RatePerSecond: c.RatePerSecond,
		Burst:         c.Burst,
		SendTimeout:   time.Minute,
		Retry:         DefaultRetryConfig(),
	}
}

type job struct {
	kind  Kind
	owner int64
}

// Dispatcher queues notifications and sends them from a fixed worker pool.
// Enqueueing never blocks; a full queue drops the notification.
type Dispatcher struct {
	dir      Directory
	chat     Sink
	fallback Sink
	limiter  *rate.Limiter
	cfg      Config
	queue    chan job
	logger   *zerolog.Logger

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewDispatcher builds a dispatcher. chat may be nil, in which case every
// message goes to fallback.
func NewDispatcher(dir Directory, chat, fallback Sink, cfg Config, logger *zerolog.Logger) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 20
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 30
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = time.Minute
	}
	l := logger.With().Str("component", "notify").Logger()
	return &Dispatcher{
		dir:      dir,
		chat:     chat,
		fallback: fallback,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		cfg:      cfg,
		queue:    make(chan job, cfg.QueueSize),
		logger:   &l,
		stopCh:   make(chan struct{}),
	}
}

func (d *Dispatcher) NotifyTableReady(_ context.Context, owner int64) {
	d.enqueue(KindTableReady, owner)
}

func (d *Dispatcher) NotifyCapacityWait(_ context.Context, owner int64) {
	d.enqueue(KindCapacityWait, owner)
}

func (d *Dispatcher) NotifyReminder(_ context.Context, owner int64) {
	d.enqueue(KindReminder, owner)
}

func (d *Dispatcher) enqueue(kind Kind, owner int64) {
	select {
	case d.queue <- job{kind: kind, owner: owner}:
		metrics.IncNotification(string(kind), "queued")
	default:
		metrics.IncNotification(string(kind), "dropped")
		d.logger.Warn().Str("kind", string(kind)).Int64("owner", owner).Msg("notification queue full, dropping")
	}
}

// Start launches the workers. They stop on Stop or when ctx is done.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return
	}
	d.running = true
	d.mu.Unlock()

	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx)
	}
	d.logger.Info().Int("workers", d.cfg.Workers).Int("queue_size", d.cfg.QueueSize).Msg("Notification dispatcher started")
}

// Stop waits for in-flight sends to finish. Queued jobs are discarded.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	d.mu.Unlock()

	close(d.stopCh)
	d.wg.Wait()
	d.logger.Info().Int("discarded", len(d.queue)).Msg("Notification dispatcher stopped")
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-d.stopCh:
			return
		case <-ctx.Done():
			return
		case j := <-d.queue:
			d.handle(ctx, j)
		}
	}
}

func (d *Dispatcher) handle(parent context.Context, j job) {
	ctx, cancel := context.WithTimeout(parent, d.cfg.SendTimeout)
	defer cancel()

	msg, err := d.render(ctx, j)
	if err != nil {
		metrics.IncNotification(string(j.kind), "failed")
		d.logger.Error().Err(err).Str("kind", string(j.kind)).Int64("owner", j.owner).Msg("cannot render notification")
		return
	}

	sink := d.fallback
	if d.chat != nil && msg.ChatID != 0 {
		sink = d.chat
	}

	status := "sent"
	if err := d.send(ctx, sink, msg); err != nil {
		status = "failed"
		d.logger.Error().Err(err).Str("kind", string(j.kind)).Str("code", msg.Code).Msg("notification not delivered")
	}
	metrics.IncNotification(string(j.kind), status)
}

// render resolves the owner reservation and its recipient.
func (d *Dispatcher) render(ctx context.Context, j job) (Message, error) {
	r, err := d.dir.ReservationByID(ctx, j.owner)
	if err != nil {
		return Message{}, fmt.Errorf("load reservation %d: %w", j.owner, err)
	}
	msg := Message{Kind: j.kind, Owner: j.owner, Code: r.ConfirmationCode}

	activity, err := d.dir.ActivityByReservation(ctx, r.ID)
	if err != nil {
		return Message{}, fmt.Errorf("load activity %d: %w", r.ID, err)
	}
	if activity != nil {
		id := activity.Identity
		switch {
		case id.IsSubscriber():
			msg.Recipient = id.SubscriberUsername
			sub, err := d.dir.SubscriberByUsername(ctx, id.SubscriberUsername)
			if err != nil {
				return Message{}, fmt.Errorf("load subscriber %s: %w", id.SubscriberUsername, err)
			}
			if sub != nil {
				msg.ChatID = sub.TelegramChatID
			}
		default:
			msg.Recipient = id.GuestEmail
		}
	}

	switch j.kind {
	case KindTableReady:
		msg.Text = fmt.Sprintf("Your table for %d is ready. Show code %s at the host stand.", r.PartySize, r.ConfirmationCode)
	case KindCapacityWait:
		msg.Text = fmt.Sprintf("We are preparing a table for your party of %d. We will message you as soon as it is ready (code %s).", r.PartySize, r.ConfirmationCode)
	case KindReminder:
		msg.Text = fmt.Sprintf("Reminder: the bill for reservation %s is still open.", r.ConfirmationCode)
	default:
		return Message{}, fmt.Errorf("unknown notification kind %q", j.kind)
	}
	return msg, nil
}

// send delivers msg with rate limiting and retries. 429 answers wait for
// RetryAfter; 400 and 403 are permanent.
func (d *Dispatcher) send(ctx context.Context, sink Sink, msg Message) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	delays := d.cfg.Retry.RetryDelays
	var lastErr error
	for attempt := 0; attempt <= d.cfg.Retry.MaxRetries; attempt++ {
		err := sink.Send(ctx, msg)
		if err == nil {
			return nil
		}
		lastErr = err

		if se, ok := AsSendError(err); ok {
			switch se.Code {
			case 429:
				wait := time.Duration(se.RetryAfter) * time.Second
				if wait == 0 && attempt < len(delays) {
					wait = delays[attempt]
				}
				d.logger.Info().Dur("retry_after", wait).Int("attempt", attempt).Str("code", msg.Code).Msg("rate limited by transport, waiting")
				if err := sleep(ctx, wait); err != nil {
					return err
				}
				continue
			case 403:
				d.logger.Info().Str("recipient", msg.Recipient).Msg("recipient blocked the bot")
				return err
			case 400:
				return err
			}
		}
		if errors.Is(err, ErrNoRecipient) {
			return err
		}

		if attempt < d.cfg.Retry.MaxRetries && attempt < len(delays) {
			if err := sleep(ctx, delays[attempt]); err != nil {
				return err
			}
		}
	}
	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
