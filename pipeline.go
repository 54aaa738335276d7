package pktcap

import (
	"context"
	"time"
)

// Pipeline assembles a ring, its capture hook and its consumer into one
// unit. A capture backend feeds HandleFrame from its receive loop while Run
// drains the other end; the two sides share nothing but the ring.
type Pipeline struct {
	ring     *Ring
	hook     *Hook
	consumer *Consumer
}

// PipelineStats gathers the counters of all three stages.
type PipelineStats struct {
	Ring     Stats
	Hook     HookStats
	Consumer ConsumerStats
}

// NewPipeline builds a pipeline from cfg delivering events to sink. The
// configuration is validated before anything is allocated.
func NewPipeline(cfg Config, sink SinkFunc) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ring, err := NewRing(cfg.RingSize, cfg.SnapLen)
	if err != nil {
		return nil, err
	}
	hook, err := NewHook(ring, cfg.SampleRate)
	if err != nil {
		return nil, err
	}
	consumer, err := NewConsumer(ring, sink, cfg.IdleWait, cfg.DrainPolls)
	if err != nil {
		return nil, err
	}
	return &Pipeline{ring: ring, hook: hook, consumer: consumer}, nil
}

// HandleFrame is the per-frame entry point handed to a capture backend.
// Exactly one backend goroutine may call it.
func (p *Pipeline) HandleFrame(frame []byte, wireLen int) {
	p.hook.HandleFrame(frame, wireLen)
}

// Run drains events to the sink until ctx is cancelled, then flushes what
// fits into the shutdown budget. It blocks and is meant for its own
// goroutine.
func (p *Pipeline) Run(ctx context.Context) error {
	return p.consumer.Run(ctx)
}

// Epoch returns the instant event timestamps count from.
func (p *Pipeline) Epoch() time.Time {
	return p.hook.Epoch()
}

// Stats returns a snapshot across all stages.
func (p *Pipeline) Stats() PipelineStats {
	return PipelineStats{
		Ring:     p.ring.Stats(),
		Hook:     p.hook.Stats(),
		Consumer: p.consumer.Stats(),
	}
}
