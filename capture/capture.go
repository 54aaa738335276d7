// Package capture opens a network interface and feeds every received frame
// to a per-frame handler. Three backends share one interface: pcap works
// everywhere, afpacket and xdp are Linux only. The handler is expected to
// return quickly; backends call it from their receive loop.
package capture

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// Handler receives one captured frame. frame holds the captured bytes and is
// only valid during the call; wireLen is the frame's original length on the
// wire, which may exceed len(frame) when the backend truncated the capture.
type Handler func(frame []byte, wireLen int)

// Stats reports receive-side counters as the backend sees them.
type Stats struct {
	Received  uint64 // frames delivered to the handler
	Dropped   uint64 // frames the kernel dropped before delivery
	IfDropped uint64 // frames dropped by the interface itself
}

// Supported backends.
const (
	BackendPcap     = "pcap"
	BackendAFPacket = "afpacket"
	BackendXDP      = "xdp"
)

const (
	maxSnapLen         = 65535
	defaultPollTimeout = 100 * time.Millisecond
	defaultXDPObject   = "bpf/pktcap.bpf.o"
)

// Config selects and tunes a capture backend.
type Config struct {
	// Interface is the device to capture on. Required.
	Interface string
	// Backend selects the capture mechanism. Empty means BackendPcap.
	Backend string
	// SnapLen truncates each captured frame to this many bytes. 0 means
	// whole frames.
	SnapLen int
	// Promiscuous puts the interface into promiscuous mode where the
	// backend supports it.
	Promiscuous bool
	// Filter is a BPF filter expression, pcap and afpacket only.
	Filter string
	// PollTimeout bounds how long a receive attempt blocks, so the loop
	// notices cancellation on a quiet wire. 0 means 100ms.
	PollTimeout time.Duration

	// XDPObject is the compiled BPF object to load, xdp only.
	XDPObject string
	// SampleRate is the percent of frames the XDP program keeps, 0..100.
	// The other backends deliver everything.
	SampleRate int
}

// Source is one open capture backend.
type Source interface {
	// Run invokes h for every received frame until ctx is cancelled.
	// It blocks and always calls h from the same goroutine.
	Run(ctx context.Context, h Handler) error
	// Stats reports the backend's receive and drop counters.
	Stats() (Stats, error)
	// Close releases the handle. Safe to call while Run is blocked.
	Close() error
}

func (c Config) withDefaults() Config {
	if c.Backend == "" {
		c.Backend = BackendPcap
	}
	if c.SnapLen == 0 {
		c.SnapLen = maxSnapLen
	}
	if c.PollTimeout == 0 {
		c.PollTimeout = defaultPollTimeout
	}
	if c.XDPObject == "" {
		c.XDPObject = defaultXDPObject
	}
	return c
}

// Open validates cfg and opens the selected backend. The returned source
// holds the device until Close.
func Open(cfg Config) (Source, error) {
	cfg = cfg.withDefaults()
	if cfg.Interface == "" {
		return nil, errors.New("capture requires an interface")
	}
	if cfg.SnapLen < 0 || cfg.SnapLen > maxSnapLen {
		return nil, errors.Errorf("snap length must be within [0, %d], got %d", maxSnapLen, cfg.SnapLen)
	}
	if cfg.SampleRate < 0 || cfg.SampleRate > 100 {
		return nil, errors.Errorf("sample rate must be within [0, 100], got %d", cfg.SampleRate)
	}
	switch cfg.Backend {
	case BackendPcap:
		return openPcap(cfg)
	case BackendAFPacket:
		return openAFPacket(cfg)
	case BackendXDP:
		return openXDP(cfg)
	default:
		return nil, errors.Errorf("unknown capture backend %q", cfg.Backend)
	}
}
