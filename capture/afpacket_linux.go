//go:build linux

package capture

import (
	"context"
	"sync"

	"github.com/google/gopacket/afpacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"github.com/pkg/errors"
	"golang.org/x/net/bpf"
)

// TPACKET_V3 ring geometry: 64 blocks of 512KiB absorb bursts without
// oversizing the memory map.
const (
	afFrameSize = 4096
	afBlockSize = afFrameSize * 128
	afNumBlocks = 64
)

type afpacketSource struct {
	tp   *afpacket.TPacket
	snap int
	once sync.Once
}

func openAFPacket(cfg Config) (Source, error) {
	tp, err := afpacket.NewTPacket(
		afpacket.OptInterface(cfg.Interface),
		afpacket.OptFrameSize(afFrameSize),
		afpacket.OptBlockSize(afBlockSize),
		afpacket.OptNumBlocks(afNumBlocks),
		afpacket.OptPollTimeout(cfg.PollTimeout),
		afpacket.TPacketVersion3,
	)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open af_packet socket on %s", cfg.Interface)
	}
	if cfg.Filter != "" {
		filter, err := compileFilter(cfg.Filter, cfg.SnapLen)
		if err != nil {
			tp.Close()
			return nil, err
		}
		if err := tp.SetBPF(filter); err != nil {
			tp.Close()
			return nil, errors.Wrapf(err, "failed to set BPF filter %q", cfg.Filter)
		}
	}
	return &afpacketSource{tp: tp, snap: cfg.SnapLen}, nil
}

// compileFilter turns a pcap filter expression into the raw instructions an
// AF_PACKET socket accepts.
func compileFilter(expr string, snapLen int) ([]bpf.RawInstruction, error) {
	insns, err := pcap.CompileBPFFilter(layers.LinkTypeEthernet, snapLen, expr)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to compile filter %q", expr)
	}
	raw := make([]bpf.RawInstruction, len(insns))
	for i, in := range insns {
		raw[i] = bpf.RawInstruction{Op: in.Code, Jt: in.Jt, Jf: in.Jf, K: in.K}
	}
	return raw, nil
}

func (s *afpacketSource) Run(ctx context.Context, h Handler) error {
	done := ctx.Done()

	for {
		select {
		case <-done:
			return nil
		default:
		}

		data, ci, err := s.tp.ZeroCopyReadPacketData()
		if err == afpacket.ErrTimeout {
			continue
		}
		if err != nil {
			return errors.Wrap(err, "error reading packet data")
		}

		// The memory map holds whole frames; truncation happens here.
		if len(data) > s.snap {
			data = data[:s.snap]
		}
		h(data, ci.Length)
	}
}

func (s *afpacketSource) Stats() (Stats, error) {
	_, v3, err := s.tp.SocketStats()
	if err != nil {
		return Stats{}, errors.Wrap(err, "failed to read socket stats")
	}
	return Stats{
		Received: uint64(v3.Packets()),
		Dropped:  uint64(v3.Drops()),
	}, nil
}

func (s *afpacketSource) Close() error {
	s.once.Do(s.tp.Close)
	return nil
}
