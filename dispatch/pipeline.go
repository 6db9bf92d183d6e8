package dispatch

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

var (
	// ErrNotConnected rejects a submit made while the session cannot send.
	ErrNotConnected = errors.New("session is not connected")
	// ErrJobActive rejects a submit that overlaps a running drain loop.
	ErrJobActive = errors.New("a bulk job is already in progress")
	// ErrEmptyPhone marks a destination with no digits after normalization.
	ErrEmptyPhone = errors.New("destination contains no digits")
)

// Item is one unit of outbound work: a raw destination, a caption, and the
// image bytes to attach.
type Item struct {
	Phone   string
	Caption string
	Image   []byte
}

// Sender is the session-side collaborator the drain loop sends through.
type Sender interface {
	Connected() bool
	Send(ctx context.Context, to string, image []byte, caption string) error
}

// Config tunes the drain loop's pacing and the job store's retention.
type Config struct {
	// MinDelay/MaxDelay bound the randomized pause between items.
	MinDelay time.Duration
	MaxDelay time.Duration
	// RateLimit/RateBurst are a hard pacing floor applied before every send,
	// independent of the jittered pause.
	RateLimit rate.Limit
	RateBurst int

	JobTTL      time.Duration
	JobCapacity int
}

func DefaultConfig() Config {
	return Config{
		MinDelay:    time.Second,
		MaxDelay:    3 * time.Second,
		RateLimit:   rate.Every(time.Second),
		RateBurst:   1,
		JobTTL:      time.Hour,
		JobCapacity: 128,
	}
}

// Dispatcher runs bulk jobs: strictly sequential, throttled sends with
// per-item failure isolation. A submit returns as soon as the job is
// scheduled; progress is observable through Job and the logs.
type Dispatcher struct {
	sender  Sender
	cfg     Config
	limiter *rate.Limiter
	metrics *Metrics
	jobs    *jobStore
	log     zerolog.Logger

	mu     sync.Mutex
	active bool
}

func New(sender Sender, cfg Config, metrics *Metrics, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		sender:  sender,
		cfg:     cfg,
		limiter: rate.NewLimiter(cfg.RateLimit, cfg.RateBurst),
		metrics: metrics,
		jobs:    newJobStore(cfg.JobCapacity, cfg.JobTTL),
		log:     log.With().Str("component", "dispatch").Logger(),
	}
}

// Submit validates preconditions, registers a job, and schedules the drain
// loop in the background. Only one job may be in flight at a time; an
// overlapping submit is rejected so two loops never halve the throttling
// against the same session.
func (d *Dispatcher) Submit(items []Item) (string, error) {
	if !d.sender.Connected() {
		return "", ErrNotConnected
	}

	d.mu.Lock()
	if d.active {
		d.mu.Unlock()
		return "", ErrJobActive
	}
	d.active = true
	d.mu.Unlock()

	id := uuid.NewString()
	d.jobs.put(JobStatus{
		ID:        id,
		State:     JobRunning,
		Total:     len(items),
		StartedAt: time.Now(),
	})
	d.metrics.jobsStarted.Inc()
	d.metrics.jobActive.Set(1)

	go d.drain(id, items)
	return id, nil
}

// Job returns the last known snapshot of a job, if it is still retained.
func (d *Dispatcher) Job(id string) (JobStatus, bool) {
	return d.jobs.get(id)
}

// Close stops the job store's background cleanup. Running drain loops are
// not interrupted; they hold no resources beyond the session they send on.
func (d *Dispatcher) Close() {
	d.jobs.stop()
}

func (d *Dispatcher) drain(id string, items []Item) {
	ctx := context.Background()
	log := d.log.With().Str("job", id).Logger()
	log.Info().Int("items", len(items)).Msg("bulk job started")

	status, _ := d.jobs.get(id)
	for i, item := range items {
		if err := d.limiter.Wait(ctx); err != nil {
			log.Error().Err(err).Msg("rate limiter interrupted")
		}

		start := time.Now()
		err := d.sendOne(ctx, item)
		d.metrics.sendDuration.Observe(time.Since(start).Seconds())

		if err != nil {
			status.Failed++
			d.metrics.itemsFailed.Inc()
			log.Error().Err(err).Str("phone", item.Phone).Int("index", i).Msg("failed to send item")
		} else {
			status.Sent++
			d.metrics.itemsSent.Inc()
			log.Info().Str("phone", item.Phone).Int("index", i).Msg("item sent")
		}
		d.jobs.put(status)

		if i < len(items)-1 {
			time.Sleep(d.pause())
		}
	}

	finished := time.Now()
	status.State = JobCompleted
	status.FinishedAt = &finished
	d.jobs.put(status)

	d.mu.Lock()
	d.active = false
	d.mu.Unlock()
	d.metrics.jobsCompleted.Inc()
	d.metrics.jobActive.Set(0)

	log.Info().Int("sent", status.Sent).Int("failed", status.Failed).Msg("bulk job finished")
}

func (d *Dispatcher) sendOne(ctx context.Context, item Item) error {
	phone, err := NormalizePhone(item.Phone)
	if err != nil {
		return err
	}
	return d.sender.Send(ctx, phone, item.Image, item.Caption)
}

// pause draws a uniform random delay from [MinDelay, MaxDelay].
func (d *Dispatcher) pause() time.Duration {
	span := d.cfg.MaxDelay - d.cfg.MinDelay
	if span <= 0 {
		return d.cfg.MinDelay
	}
	return d.cfg.MinDelay + time.Duration(rand.Int63n(int64(span)))
}

// NormalizePhone strips everything but digits from a raw destination. No
// country-code canonicalization happens here; the caller is responsible for
// the correct international format.
func NormalizePhone(raw string) (string, error) {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, raw)
	if digits == "" {
		return "", fmt.Errorf("%w: %q", ErrEmptyPhone, raw)
	}
	return digits, nil
}
