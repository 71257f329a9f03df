package extraction

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentdock/agentdock-core/pkg/config"
	"github.com/agentdock/agentdock-core/pkg/memory"
	"github.com/agentdock/agentdock-core/pkg/protocol"
	"github.com/agentdock/agentdock-core/pkg/tokens"
)

const staleCheckInterval = 30 * time.Second

// BatchMetrics records the outcome of one fired batch.
type BatchMetrics struct {
	BatchID   string        `json:"batch_id"`
	UserID    string        `json:"user_id"`
	AgentID   string        `json:"agent_id"`
	Messages  int           `json:"messages"`
	Sampled   bool          `json:"sampled"`
	Extractor string        `json:"extractor,omitempty"`
	Extracted int           `json:"extracted"`
	Duration  time.Duration `json:"duration"`
}

type buffer struct {
	userID   string
	agentID  string
	messages []*protocol.Message
	oldest   time.Time
}

// Orchestrator buffers inbound messages per (user, agent) and fires
// extraction batches. Buffers are never shared across users.
type Orchestrator struct {
	ops        memory.Operations
	cfg        config.ExtractionConfig
	extractors []Extractor
	nowFn      func() time.Time
	onBatch    func(BatchMetrics)
	counter    *tokens.Counter

	mu      sync.Mutex
	rng     *rand.Rand
	buffers map[string]*buffer

	sweepStop chan struct{}
	sweepDone chan struct{}
}

// OrchestratorOption adjusts construction.
type OrchestratorOption func(*Orchestrator)

// WithClock overrides the time source.
func WithClock(nowFn func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) { o.nowFn = nowFn }
}

// WithRandSource seeds the sampling decision, making extraction-rate
// behavior reproducible.
func WithRandSource(src rand.Source) OrchestratorOption {
	return func(o *Orchestrator) { o.rng = rand.New(src) }
}

// WithExtractors replaces the default chain (RuleExtractor only).
func WithExtractors(extractors ...Extractor) OrchestratorOption {
	return func(o *Orchestrator) { o.extractors = extractors }
}

// WithBatchObserver registers a callback invoked after every fired
// batch, sampled or not.
func WithBatchObserver(fn func(BatchMetrics)) OrchestratorOption {
	return func(o *Orchestrator) { o.onBatch = fn }
}

// NewOrchestrator builds the orchestrator and starts the stale-buffer
// sweeper.
func NewOrchestrator(ops memory.Operations, cfg *config.ExtractionConfig, opts ...OrchestratorOption) *Orchestrator {
	if cfg == nil {
		cfg = &config.ExtractionConfig{}
	}
	c := *cfg
	c.SetDefaults()

	o := &Orchestrator{
		ops:        ops,
		cfg:        c,
		extractors: []Extractor{RuleExtractor{}},
		nowFn:      time.Now,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		buffers:    make(map[string]*buffer),
		sweepStop:  make(chan struct{}),
		sweepDone:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}

	if counter, err := tokens.NewCounter(""); err == nil {
		o.counter = counter
	}

	go o.sweepLoop()
	return o
}

// Close stops the sweeper. Buffered messages that never reached a
// flush are discarded.
func (o *Orchestrator) Close() {
	select {
	case <-o.sweepStop:
		return
	default:
	}
	close(o.sweepStop)
	<-o.sweepDone
}

func bufferKey(userID, agentID string) string {
	return userID + "\x00" + agentID
}

// Ingest appends messages to the (user, agent) buffer, dropping those
// below the length floor, and fires a batch once the buffer reaches
// maxBatchSize.
func (o *Orchestrator) Ingest(ctx context.Context, userID, agentID string, messages []*protocol.Message) error {
	if userID == "" {
		return fmt.Errorf("%w: user id is required", memory.ErrValidation)
	}

	o.mu.Lock()
	key := bufferKey(userID, agentID)
	buf, ok := o.buffers[key]
	if !ok {
		buf = &buffer{userID: userID, agentID: agentID, oldest: o.nowFn()}
		o.buffers[key] = buf
	}
	if len(buf.messages) == 0 {
		buf.oldest = o.nowFn()
	}

	for _, msg := range messages {
		if len(protocol.ExtractText(msg)) < o.cfg.MinMessageLength {
			continue
		}
		buf.messages = append(buf.messages, msg)
	}

	var fire *buffer
	if len(buf.messages) >= o.cfg.MaxBatchSize {
		fire = o.takeLocked(key)
	}
	o.mu.Unlock()

	if fire == nil {
		return nil
	}
	return o.processBatch(ctx, fire)
}

// Process flushes the (user, agent) buffer immediately, whatever its
// size.
func (o *Orchestrator) Process(ctx context.Context, userID, agentID string) error {
	o.mu.Lock()
	fire := o.takeLocked(bufferKey(userID, agentID))
	o.mu.Unlock()

	if fire == nil || len(fire.messages) == 0 {
		return nil
	}
	return o.processBatch(ctx, fire)
}

// takeLocked detaches a buffer for processing. Caller holds o.mu.
func (o *Orchestrator) takeLocked(key string) *buffer {
	buf, ok := o.buffers[key]
	if !ok {
		return nil
	}
	delete(o.buffers, key)
	return buf
}

// FlushStale fires every buffer older than the configured timeout that
// holds at least minBatchSize messages.
func (o *Orchestrator) FlushStale(ctx context.Context) error {
	deadline := o.nowFn().Add(-o.cfg.Timeout)

	o.mu.Lock()
	var fire []*buffer
	for key, buf := range o.buffers {
		if len(buf.messages) >= o.cfg.MinBatchSize && !buf.oldest.After(deadline) {
			fire = append(fire, buf)
			delete(o.buffers, key)
		}
	}
	o.mu.Unlock()

	var firstErr error
	for _, buf := range fire {
		if err := o.processBatch(ctx, buf); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (o *Orchestrator) sweepLoop() {
	defer close(o.sweepDone)

	ticker := time.NewTicker(staleCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-o.sweepStop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := o.FlushStale(ctx); err != nil {
				slog.Warn("Stale extraction flush failed", "error", err)
			}
			cancel()
		}
	}
}

// processBatch applies sampling and runs the extractor chain.
func (o *Orchestrator) processBatch(ctx context.Context, buf *buffer) error {
	start := o.nowFn()
	metrics := BatchMetrics{
		BatchID:  uuid.NewString(),
		UserID:   buf.userID,
		AgentID:  buf.agentID,
		Messages: len(buf.messages),
	}

	o.mu.Lock()
	sampled := o.rng.Float64() < o.cfg.ExtractionRate
	o.mu.Unlock()

	if !sampled {
		metrics.Duration = o.nowFn().Sub(start)
		o.observe(metrics)
		return nil
	}
	metrics.Sampled = true

	for _, ex := range o.extractors {
		records, err := ex.Extract(ctx, buf.userID, buf.agentID, buf.messages)
		if err != nil {
			return fmt.Errorf("extractor %s: %w", ex.Name(), err)
		}
		if len(records) == 0 {
			continue
		}

		metrics.Extractor = ex.Name()
		for _, mem := range records {
			mem.BatchID = metrics.BatchID
			mem.ExtractionMethod = ex.Name()
			if mem.TokenCount == 0 {
				if o.counter != nil {
					mem.TokenCount = o.counter.Count(mem.Content)
				} else {
					mem.TokenCount = tokens.Estimate(mem.Content)
				}
			}
			if _, err := o.ops.Store(ctx, buf.userID, buf.agentID, mem); err != nil {
				return fmt.Errorf("failed to store extracted memory: %w", err)
			}
			metrics.Extracted++
		}
		break
	}

	metrics.Duration = o.nowFn().Sub(start)
	o.observe(metrics)
	return nil
}

func (o *Orchestrator) observe(m BatchMetrics) {
	if o.onBatch != nil {
		o.onBatch(m)
	}
	slog.Debug("Extraction batch fired",
		"batch_id", m.BatchID,
		"messages", m.Messages,
		"sampled", m.Sampled,
		"extracted", m.Extracted)
}
