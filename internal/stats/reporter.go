package stats

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Reporter logs a snapshot every interval until its context ends.
type Reporter struct {
	stats    *Stats
	interval time.Duration
	logger   *zap.Logger
}

func NewReporter(s *Stats, interval time.Duration, logger *zap.Logger) *Reporter {
	return &Reporter{stats: s, interval: interval, logger: logger}
}

func (r *Reporter) Run(ctx context.Context) error {
	if r.interval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.report()
			return nil
		case <-ticker.C:
			r.report()
		}
	}
}

func (r *Reporter) report() {
	snap := r.stats.Snapshot()
	r.logger.Info("gateway stats",
		zap.Duration("uptime", r.stats.Uptime().Truncate(time.Second)),
		zap.Uint64("connections_accepted", snap.ConnectionsAccepted),
		zap.Int64("connections_active", snap.ConnectionsActive),
		zap.Uint64("datagrams_received", snap.DatagramsReceived),
		zap.Uint64("frames_parsed", snap.TotalFramesParsed()),
		zap.Any("frames_by_protocol", snap.FramesParsed),
		zap.Uint64("frames_forwarded", snap.FramesForwarded),
		zap.Uint64("forward_failures", snap.ForwardFailures),
		zap.Uint64("forward_rejections", snap.ForwardRejections),
		zap.Uint64("frames_malformed", snap.FramesMalformed),
		zap.Uint64("bytes_discarded", snap.BytesDiscarded),
		zap.Uint64("buffer_overflows", snap.BufferOverflows),
		zap.Uint64("queue_full_drops", snap.QueueFullDrops),
		zap.Uint64("acks_sent", snap.AcksSent),
	)
}
