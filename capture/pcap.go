package capture

import (
	"context"
	"sync"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"
	"github.com/pkg/errors"
)

type pcapSource struct {
	handle *pcap.Handle
	once   sync.Once
}

func openPcap(cfg Config) (Source, error) {
	handle, err := pcap.OpenLive(cfg.Interface, int32(cfg.SnapLen), cfg.Promiscuous, cfg.PollTimeout)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open device %s", cfg.Interface)
	}
	if cfg.Filter != "" {
		if err := handle.SetBPFFilter(cfg.Filter); err != nil {
			handle.Close()
			return nil, errors.Wrapf(err, "failed to set BPF filter %q", cfg.Filter)
		}
	}
	return &pcapSource{handle: handle}, nil
}

func (s *pcapSource) Run(ctx context.Context, h Handler) error {
	packetSource := gopacket.ZeroCopyPacketDataSource(s.handle)
	done := ctx.Done()

	for {
		select {
		case <-done:
			return nil
		default:
		}

		// The read blocks at most PollTimeout, so cancellation is
		// noticed even on a quiet wire.
		data, ci, err := packetSource.ZeroCopyReadPacketData()
		if err == pcap.NextErrorTimeoutExpired {
			continue
		}
		if err != nil {
			return errors.Wrap(err, "error reading packet data")
		}

		h(data, ci.Length)
	}
}

func (s *pcapSource) Stats() (Stats, error) {
	ps, err := s.handle.Stats()
	if err != nil {
		return Stats{}, errors.Wrap(err, "failed to read handle stats")
	}
	return Stats{
		Received:  uint64(ps.PacketsReceived),
		Dropped:   uint64(ps.PacketsDropped),
		IfDropped: uint64(ps.PacketsIfDropped),
	}, nil
}

func (s *pcapSource) Close() error {
	s.once.Do(s.handle.Close)
	return nil
}
