package pktcap

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// SinkFunc receives one decoded event. The event and its payload are only
// valid until the callback returns; a sink that needs the bytes afterwards
// must copy them.
type SinkFunc func(*Event) error

// Consumer drains a ring from its own goroutine and forwards every event to
// a sink, in publish order. It is the single consumer of its ring.
type Consumer struct {
	ring *Ring
	sink SinkFunc

	idleWait   time.Duration
	drainPolls int

	delivered  atomic.Uint64
	sinkErrs   atomic.Uint64
	decodeErrs atomic.Uint64
}

// ConsumerStats is a snapshot of consumer-side counters.
type ConsumerStats struct {
	Delivered    uint64 // events handed to the sink successfully
	SinkErrors   uint64 // events the sink rejected
	DecodeErrors uint64 // slots skipped because they failed decoding
}

// NewConsumer prepares a consumer for ring delivering to sink. idleWait is
// how long the loop sleeps after finding the ring empty (0 means
// DefaultIdleWait); drainPolls bounds how many extra polls a shutdown may
// spend flushing pending events (0 means the ring capacity).
func NewConsumer(ring *Ring, sink SinkFunc, idleWait time.Duration, drainPolls int) (*Consumer, error) {
	if ring == nil {
		return nil, errors.New("consumer requires a ring")
	}
	if sink == nil {
		return nil, errors.New("consumer requires a sink")
	}
	if idleWait < 0 {
		return nil, errors.Errorf("idle wait must not be negative, got %v", idleWait)
	}
	if drainPolls < 0 {
		return nil, errors.Errorf("drain polls must not be negative, got %d", drainPolls)
	}
	if idleWait == 0 {
		idleWait = DefaultIdleWait
	}
	if drainPolls == 0 {
		drainPolls = ring.Capacity()
	}
	return &Consumer{
		ring:       ring,
		sink:       sink,
		idleWait:   idleWait,
		drainPolls: drainPolls,
	}, nil
}

// Run drains the ring until ctx is cancelled, then gives pending events a
// bounded number of extra polls and returns. Decode and sink failures for a
// single event are logged, counted and skipped; they never stop the loop.
// The loop sleeps idleWait between empty polls instead of spinning.
func (c *Consumer) Run(ctx context.Context) error {
	ev := &Event{Payload: make([]byte, 0, c.ring.SnapLen())}
	done := ctx.Done()
	for {
		select {
		case <-done:
			c.drain(ev)
			return nil
		default:
		}
		if !c.consumeOne(ev) {
			time.Sleep(c.idleWait)
		}
	}
}

// Stats returns a snapshot of the consumer counters.
func (c *Consumer) Stats() ConsumerStats {
	return ConsumerStats{
		Delivered:    c.delivered.Load(),
		SinkErrors:   c.sinkErrs.Load(),
		DecodeErrors: c.decodeErrs.Load(),
	}
}

// consumeOne moves at most one event from the ring to the sink. It reports
// whether it made progress, so the caller knows when to back off.
func (c *Consumer) consumeOne(ev *Event) bool {
	ok, err := c.ring.TryConsume(ev)
	if err != nil {
		c.decodeErrs.Add(1)
		log.Warnf("skipping undecodable event: %v", err)
		return true // the slot was skipped, keep draining
	}
	if !ok {
		return false
	}
	if err := c.sink(ev); err != nil {
		c.sinkErrs.Add(1)
		log.Warnf("sink rejected event: %v", err)
		return true
	}
	c.delivered.Add(1)
	return true
}

func (c *Consumer) drain(ev *Event) {
	for i := 0; i < c.drainPolls; i++ {
		if !c.consumeOne(ev) {
			return
		}
	}
}
