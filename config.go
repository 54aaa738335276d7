package pktcap

import (
	"time"

	"github.com/pkg/errors"
)

// Pipeline defaults. Ring capacity and snap length trade memory for loss
// under burst; the defaults hold 4096 events of 64 payload bytes each.
const (
	DefaultRingSize   = 4096
	DefaultSnapLen    = 64
	DefaultSampleRate = 100
	DefaultIdleWait   = 200 * time.Microsecond
)

// Config sizes and tunes a capture pipeline. Start from DefaultConfig and
// override; the zero value does not validate.
type Config struct {
	// RingSize is the ring capacity in slots. Must be a power of two.
	RingSize int
	// SnapLen is the payload bytes retained per captured packet.
	SnapLen int
	// SampleRate is the percent of frames the hook keeps, 0..100.
	SampleRate int
	// IdleWait is the consumer's sleep between empty polls. 0 means
	// DefaultIdleWait.
	IdleWait time.Duration
	// DrainPolls bounds the consumer's extra polls on shutdown. 0 means
	// the ring capacity.
	DrainPolls int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		RingSize:   DefaultRingSize,
		SnapLen:    DefaultSnapLen,
		SampleRate: DefaultSampleRate,
		IdleWait:   DefaultIdleWait,
	}
}

// Validate refuses configurations the pipeline must not start with. Sizing
// errors are fatal here, before any capture begins; nothing rounds or
// repairs them silently.
func (c Config) Validate() error {
	if c.RingSize <= 0 || c.RingSize&(c.RingSize-1) != 0 {
		return errors.Errorf("ring size must be a power of two, got %d", c.RingSize)
	}
	if c.SnapLen < 1 || c.SnapLen > MaxSnapLen {
		return errors.Errorf("snap length must be within [1, %d], got %d", MaxSnapLen, c.SnapLen)
	}
	if c.SampleRate < 0 || c.SampleRate > 100 {
		return errors.Errorf("sample rate must be within [0, 100], got %d", c.SampleRate)
	}
	if c.IdleWait < 0 {
		return errors.Errorf("idle wait must not be negative, got %v", c.IdleWait)
	}
	if c.DrainPolls < 0 {
		return errors.Errorf("drain polls must not be negative, got %d", c.DrainPolls)
	}
	return nil
}
