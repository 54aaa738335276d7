//go:build linux

package capture

import (
	"context"
	"encoding/binary"
	"net"
	"sync"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/ringbuf"
	"github.com/cilium/ebpf/rlimit"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Object names inside the compiled XDP program.
const (
	xdpProgram   = "capture_packet"
	xdpEventsMap = "events"
	xdpSampleMap = "input_value"
	xdpStatsMap  = "stats"
)

// Keys into the stats array map.
const (
	xdpStatReceived = uint32(0)
	xdpStatDropped  = uint32(1)
)

// Each ring buffer record starts with the packet length and the capture
// length, both little-endian u32, followed by the captured bytes.
const xdpRecordHeaderLen = 8

type xdpSource struct {
	coll   *ebpf.Collection
	lnk    link.Link
	reader *ringbuf.Reader
	once   sync.Once
}

func openXDP(cfg Config) (Source, error) {
	ifc, err := net.InterfaceByName(cfg.Interface)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to find interface %s", cfg.Interface)
	}
	if err := rlimit.RemoveMemlock(); err != nil {
		return nil, errors.Wrap(err, "failed to remove memlock limit")
	}

	spec, err := ebpf.LoadCollectionSpec(cfg.XDPObject)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load BPF object %s", cfg.XDPObject)
	}
	coll, err := ebpf.NewCollection(spec)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load BPF collection")
	}

	prog := coll.Programs[xdpProgram]
	if prog == nil {
		coll.Close()
		return nil, errors.Errorf("BPF object has no %s program", xdpProgram)
	}
	events := coll.Maps[xdpEventsMap]
	if events == nil {
		coll.Close()
		return nil, errors.Errorf("BPF object has no %s map", xdpEventsMap)
	}
	if m := coll.Maps[xdpSampleMap]; m != nil {
		if err := m.Put(uint32(0), uint32(cfg.SampleRate)); err != nil {
			coll.Close()
			return nil, errors.Wrap(err, "failed to set sample rate")
		}
	}

	reader, err := ringbuf.NewReader(events)
	if err != nil {
		coll.Close()
		return nil, errors.Wrap(err, "failed to open ring buffer")
	}
	lnk, err := link.AttachXDP(link.XDPOptions{
		Program:   prog,
		Interface: ifc.Index,
	})
	if err != nil {
		reader.Close()
		coll.Close()
		return nil, errors.Wrapf(err, "failed to attach XDP program to %s", cfg.Interface)
	}
	log.Infof("attached XDP program %s to %s (sample rate %d%%)", xdpProgram, cfg.Interface, cfg.SampleRate)

	return &xdpSource{coll: coll, lnk: lnk, reader: reader}, nil
}

func (s *xdpSource) Run(ctx context.Context, h Handler) error {
	// Read blocks with no timeout; closing the reader is how
	// cancellation reaches it.
	go func() {
		<-ctx.Done()
		s.reader.Close()
	}()

	for {
		record, err := s.reader.Read()
		if err != nil {
			if errors.Is(err, ringbuf.ErrClosed) {
				return nil
			}
			return errors.Wrap(err, "error reading ring buffer")
		}

		raw := record.RawSample
		if len(raw) < xdpRecordHeaderLen {
			log.Warnf("short ring buffer record: %d bytes", len(raw))
			continue
		}
		pktLen := binary.LittleEndian.Uint32(raw[0:4])
		capLen := binary.LittleEndian.Uint32(raw[4:8])
		if int(capLen) > len(raw)-xdpRecordHeaderLen {
			capLen = uint32(len(raw) - xdpRecordHeaderLen)
		}
		h(raw[xdpRecordHeaderLen:xdpRecordHeaderLen+int(capLen)], int(pktLen))
	}
}

func (s *xdpSource) Stats() (Stats, error) {
	m := s.coll.Maps[xdpStatsMap]
	if m == nil {
		return Stats{}, nil
	}
	var st Stats
	var v uint64
	if err := m.Lookup(xdpStatReceived, &v); err != nil {
		return Stats{}, errors.Wrap(err, "failed to read stats map")
	}
	st.Received = v
	if err := m.Lookup(xdpStatDropped, &v); err != nil {
		return Stats{}, errors.Wrap(err, "failed to read stats map")
	}
	st.Dropped = v
	return st, nil
}

func (s *xdpSource) Close() error {
	var err error
	s.once.Do(func() {
		err = s.reader.Close()
		if lerr := s.lnk.Close(); lerr != nil && err == nil {
			err = lerr
		}
		s.coll.Close()
	})
	return err
}
