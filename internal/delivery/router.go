package delivery

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"ProactiveInsights/internal/domain"
	"ProactiveInsights/internal/metrics"
	"ProactiveInsights/internal/ports"
)

const (
	DefaultRateLimitWindow = 5 * time.Minute
	DefaultBatchWindow     = 5 * time.Minute
	DefaultBatchMaxSize    = 10
)

// Config tunes rate limiting and batching.
type Config struct {
	RateLimitWindow time.Duration
	BatchMaxSize    int
}

// Delivery reports what the router did with one insight.
type Delivery struct {
	Insight    domain.Insight
	Channel    domain.Channel
	Dispatched bool
	Downgraded bool
	Batched    bool
}

// Router assigns scored insights to transports under rate-limit and batching rules.
type Router struct {
	mu       sync.Mutex
	senders  map[domain.Channel]ports.Sender
	window   time.Duration
	batchMax int
	lastPush map[string]time.Time
	batch    []domain.Insight
	logger   *slog.Logger
	now      func() time.Time
}

// NewRouter wires channel senders. Channels without a sender are delivered
// without an outbound call.
func NewRouter(cfg Config, senders map[domain.Channel]ports.Sender, logger *slog.Logger) *Router {
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = DefaultRateLimitWindow
	}
	if cfg.BatchMaxSize <= 0 {
		cfg.BatchMaxSize = DefaultBatchMaxSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	copied := make(map[domain.Channel]ports.Sender, len(senders))
	for ch, s := range senders {
		if s != nil {
			copied[ch] = s
		}
	}
	return &Router{
		senders:  copied,
		window:   cfg.RateLimitWindow,
		batchMax: cfg.BatchMaxSize,
		lastPush: map[string]time.Time{},
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock swaps the time source.
func (r *Router) WithClock(now func() time.Time) *Router {
	if now != nil {
		r.now = now
	}
	return r
}

// Route delivers one scored insight. The returned insight is always in the
// delivered state with its delivery timestamp set, even when the push channel
// was downgraded or the insight went into the batch buffer.
func (r *Router) Route(ctx context.Context, insight domain.Insight) Delivery {
	r.mu.Lock()
	now := r.now()
	target := insight.DeliveryChannel
	if target == "" {
		target = domain.ChannelInContext
	}

	result := Delivery{Channel: target}
	if target == domain.ChannelPush {
		if last, ok := r.lastPush[insight.SourceID]; ok && now.Sub(last) < r.window {
			result.Channel = domain.ChannelInContext
			result.Downgraded = true
		} else {
			r.lastPush[insight.SourceID] = now
		}
	}

	delivered := insight
	delivered.State = domain.StateDelivered
	delivered.DeliveredAt = &now
	result.Insight = delivered

	if result.Channel == domain.ChannelBatch {
		r.batch = append(r.batch, delivered)
		result.Batched = true
	}
	sender := r.senders[result.Channel]
	r.mu.Unlock()

	metrics.Deliveries.WithLabelValues(string(result.Channel)).Inc()
	if result.Downgraded {
		metrics.Downgrades.WithLabelValues(insight.SourceID).Inc()
		r.logger.Debug("push rate limited", "insight", insight.ID, "source", insight.SourceID)
	}

	if result.Batched || sender == nil {
		return result
	}
	result.Dispatched = r.send(ctx, result.Channel, sender, FormatInsight(delivered))
	return result
}

// FlushBatch returns and clears the batch buffer.
func (r *Router) FlushBatch() []domain.Insight {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.batch
	r.batch = nil
	if out == nil {
		return []domain.Insight{}
	}
	return out
}

// BatchSize reports how many insights are waiting in the batch buffer.
func (r *Router) BatchSize() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batch)
}

// BatchFull reports whether the buffer reached the size threshold.
func (r *Router) BatchFull() bool {
	return r.BatchSize() >= r.batchMax
}

// Drain flushes the batch and sends the digest through the batch sender.
// It returns the number of insights flushed.
func (r *Router) Drain(ctx context.Context) int {
	items := r.FlushBatch()
	if len(items) == 0 {
		return 0
	}
	r.mu.Lock()
	sender := r.senders[domain.ChannelBatch]
	r.mu.Unlock()
	if sender != nil {
		r.send(ctx, domain.ChannelBatch, sender, FormatBatch(items))
	}
	return len(items)
}

func (r *Router) send(ctx context.Context, ch domain.Channel, sender ports.Sender, text string) bool {
	if err := sender.Send(ctx, text); err != nil {
		metrics.SendFailures.WithLabelValues(string(ch)).Inc()
		r.logger.Warn("send failed", "channel", ch, "error", err)
		return false
	}
	return true
}
