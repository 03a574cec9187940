// Package forwarder delivers parsed frames to the upstream ingestion sink.
//
// Sessions hand packets over with Enqueue, which never blocks. Packets are
// sharded onto per-worker queues by session so frames from one connection
// reach the sink in the order the device sent them.
package forwarder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/cespare/xxhash/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"trackgate/internal/core/model"
	"trackgate/internal/stats"
)

var (
	ErrQueueFull          = errors.New("forward queue full")
	ErrClosed             = errors.New("forwarder closed")
	ErrPermanentRejection = errors.New("upstream rejected frame")
	errUpstreamStatus     = errors.New("upstream unavailable")
)

const (
	HeaderProtocol    = "X-Protocol"
	HeaderDeviceID    = "X-Device-ID"
	HeaderDeviceToken = "X-Device-Token"
	HeaderCommand     = "X-Command"
)

type Config struct {
	URL          string
	Workers      int
	QueueSize    int
	MaxAttempts  int
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
	Timeout      time.Duration
	DrainTimeout time.Duration
}

// TokenSource supplies the bearer credential for the sink.
type TokenSource interface {
	Token() (string, error)
}

// DeviceTokens resolves the optional per-device token.
type DeviceTokens interface {
	ResolveToken(ctx context.Context, deviceID string) (string, error)
}

type Metrics struct {
	Latency *prometheus.HistogramVec
}

// NewMetrics registers the forwarder metrics on reg. A nil reg leaves them
// unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		Latency: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "trackgate_forward_duration_seconds",
			Help:    "Duration of upstream POST attempts, labeled by protocol and outcome.",
			Buckets: prometheus.DefBuckets,
		}, []string{"protocol", "outcome"}),
	}
}

type Forwarder struct {
	cfg     Config
	client  *http.Client
	tokens  TokenSource
	devices DeviceTokens
	stats   *stats.Stats
	metrics *Metrics
	logger  *zap.Logger

	queues []chan *model.ParsedPacket
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// New builds a forwarder. devices may be nil when no registry is configured.
func New(cfg Config, tokens TokenSource, devices DeviceTokens, s *stats.Stats, metrics *Metrics, logger *zap.Logger) *Forwarder {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	queues := make([]chan *model.ParsedPacket, cfg.Workers)
	for i := range queues {
		queues[i] = make(chan *model.ParsedPacket, cfg.QueueSize)
	}

	return &Forwarder{
		cfg:     cfg,
		client:  &http.Client{},
		tokens:  tokens,
		devices: devices,
		stats:   s,
		metrics: metrics,
		logger:  logger,
		queues:  queues,
	}
}

// Enqueue hands p to its worker without blocking. A full queue drops p.
func (f *Forwarder) Enqueue(p *model.ParsedPacket) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return ErrClosed
	}

	q := f.queues[xxhash.Sum64String(p.ShardKey())%uint64(len(f.queues))]
	select {
	case q <- p:
		return nil
	default:
		f.stats.QueueFullDrops.Add(1)
		return ErrQueueFull
	}
}

// Run starts the workers and blocks until ctx is done. Queued packets are
// then drained for at most DrainTimeout before in-flight retries are
// abandoned.
func (f *Forwarder) Run(ctx context.Context) error {
	workCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()

	for i, q := range f.queues {
		f.wg.Add(1)
		go f.worker(workCtx, i, q)
	}
	f.logger.Info("forwarder started",
		zap.String("url", f.cfg.URL),
		zap.Int("workers", len(f.queues)),
		zap.Int("queue_size", f.cfg.QueueSize))

	<-ctx.Done()
	f.close()

	drained := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(drained)
	}()

	var timeout <-chan time.Time
	if f.cfg.DrainTimeout > 0 {
		timer := time.NewTimer(f.cfg.DrainTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-drained:
		f.logger.Info("forwarder drained")
	case <-timeout:
		f.logger.Warn("forwarder drain timed out, abandoning queued frames")
		cancel()
		<-drained
	}
	return nil
}

func (f *Forwarder) close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	f.closed = true
	for _, q := range f.queues {
		close(q)
	}
}

func (f *Forwarder) worker(ctx context.Context, id int, q <-chan *model.ParsedPacket) {
	defer f.wg.Done()

	for p := range q {
		err := f.Forward(ctx, p)
		switch {
		case err == nil:
			f.stats.FramesForwarded.Add(1)
		case errors.Is(err, ErrPermanentRejection):
			f.stats.ForwardRejections.Add(1)
			f.logger.Warn("upstream rejected frame, dropping",
				packetFields(p, zap.Int("worker", id), zap.Error(err))...)
		default:
			f.stats.ForwardFailures.Add(1)
			f.logger.Error("forward failed, dropping frame",
				packetFields(p, zap.Int("worker", id), zap.Error(err))...)
		}
	}
}

// Forward POSTs p to the sink, retrying transport errors and 5xx responses
// with capped exponential backoff. A 4xx response is returned immediately
// as ErrPermanentRejection.
func (f *Forwarder) Forward(ctx context.Context, p *model.ParsedPacket) error {
	token, err := f.tokens.Token()
	if err != nil {
		return fmt.Errorf("upstream token: %w", err)
	}
	deviceToken := f.deviceToken(ctx, p)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.cfg.BaseBackoff
	b.MaxInterval = f.cfg.MaxBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0

	attempt := 0
	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		return struct{}{}, f.post(ctx, p, token, deviceToken)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(f.cfg.MaxAttempts)),
		backoff.WithNotify(func(err error, delay time.Duration) {
			f.stats.ForwardRetries.Add(1)
			f.logger.Warn("forward attempt failed, retrying",
				packetFields(p, zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(err))...)
		}),
	)
	return err
}

func (f *Forwarder) deviceToken(ctx context.Context, p *model.ParsedPacket) string {
	if f.devices == nil || p.DeviceID == "" {
		return ""
	}
	token, err := f.devices.ResolveToken(ctx, p.DeviceID)
	if err != nil {
		f.logger.Warn("device token lookup failed, forwarding without it",
			zap.String("device_id", p.DeviceID), zap.Error(err))
		return ""
	}
	return token
}

// post makes one attempt. Its error is wrapped with backoff.Permanent when
// retrying cannot help.
func (f *Forwarder) post(ctx context.Context, p *model.ParsedPacket, token, deviceToken string) error {
	start := time.Now()
	outcome := "error"
	defer func() {
		f.metrics.Latency.WithLabelValues(p.Protocol, outcome).Observe(time.Since(start).Seconds())
	}()

	if f.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.cfg.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.cfg.URL, strings.NewReader(p.HexRaw()))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "text/plain")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set(HeaderProtocol, p.Protocol)
	if p.DeviceID != "" {
		req.Header.Set(HeaderDeviceID, p.DeviceID)
	}
	if deviceToken != "" {
		req.Header.Set(HeaderDeviceToken, deviceToken)
	}
	if p.Command != "" {
		req.Header.Set(HeaderCommand, p.Command)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		outcome = "ok"
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		outcome = "rejected"
		return backoff.Permanent(fmt.Errorf("%w: status %d", ErrPermanentRejection, resp.StatusCode))
	default:
		outcome = "retry"
		return fmt.Errorf("%w: status %d", errUpstreamStatus, resp.StatusCode)
	}
}

func packetFields(p *model.ParsedPacket, extra ...zap.Field) []zap.Field {
	fields := []zap.Field{
		zap.String("protocol", p.Protocol),
		zap.String("device_id", p.DeviceID),
		zap.String("command", p.Command),
		zap.String("session_id", p.SessionID),
		zap.Int("bytes", len(p.Raw)),
	}
	return append(fields, extra...)
}
