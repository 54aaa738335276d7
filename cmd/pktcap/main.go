package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/packetring/pktcap"
	"github.com/packetring/pktcap/capture"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

var shutdownSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}

func SetupSignalHandler() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	c := make(chan os.Signal, 2)
	signal.Notify(c, shutdownSignals...)
	go func() {
		<-c
		cancel()
		<-c
		os.Exit(1) // second signal. Exit directly.
	}()

	return ctx
}

// newEventSink prints one line per captured packet to stdout. Timestamps are
// seconds since capture start; diagnostics stay on stderr via the logger.
func newEventSink(hexDump, quiet bool) pktcap.SinkFunc {
	if quiet {
		return func(*pktcap.Event) error { return nil }
	}
	return func(ev *pktcap.Event) error {
		ts := float64(ev.Timestamp) / float64(time.Second)
		if hexDump {
			fmt.Printf("%.6f len=%d cap=%d\n%s", ts, ev.PacketLen, len(ev.Payload), hex.Dump(ev.Payload))
			return nil
		}
		fmt.Printf("%.6f len=%d cap=%d %x\n", ts, ev.PacketLen, len(ev.Payload), ev.Payload)
		return nil
	}
}

func logStats(p *pktcap.Pipeline, src capture.Source) {
	st := p.Stats()
	log.Infof("ring: published=%d consumed=%d dropped=%d occupied=%d/%d",
		st.Ring.Published, st.Ring.Consumed, st.Ring.Dropped, st.Ring.Length, st.Ring.Capacity)
	log.Infof("hook: seen=%d sampled_out=%d", st.Hook.Seen, st.Hook.SampledOut)
	log.Infof("consumer: delivered=%d sink_errors=%d decode_errors=%d",
		st.Consumer.Delivered, st.Consumer.SinkErrors, st.Consumer.DecodeErrors)
	if cs, err := src.Stats(); err == nil {
		log.Infof("capture: received=%d dropped=%d if_dropped=%d",
			cs.Received, cs.Dropped, cs.IfDropped)
	}
}

func launch(ctx context.Context, cmd *cli.Command) error {
	log.Info("Starting packet capture...")

	cfg := pktcap.DefaultConfig()
	cfg.RingSize = int(cmd.Int32("ring-size"))
	cfg.SnapLen = int(cmd.Int32("snaplen"))
	cfg.SampleRate = int(cmd.Int32("sample"))

	capCfg := capture.Config{
		Interface:   cmd.String("interface"),
		Backend:     cmd.String("backend"),
		SnapLen:     int(cmd.Int32("snaplen")),
		Promiscuous: cmd.Bool("promisc"),
		Filter:      cmd.String("filter"),
		XDPObject:   cmd.String("xdp-object"),
	}
	if capCfg.Backend == capture.BackendXDP {
		// The XDP program samples in the kernel; sampling again in
		// user space would compound the rates.
		capCfg.SampleRate = cfg.SampleRate
		cfg.SampleRate = 100
	}

	p, err := pktcap.NewPipeline(cfg, newEventSink(cmd.Bool("hex"), cmd.Bool("quiet")))
	if err != nil {
		return err
	}

	src, err := capture.Open(capCfg)
	if err != nil {
		return err
	}
	defer src.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return src.Run(gctx, p.HandleFrame)
	})
	g.Go(func() error {
		return p.Run(gctx)
	})
	g.Go(func() error {
		every := cmd.Duration("stats-every")
		if every <= 0 {
			return nil
		}
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-time.After(every):
				logStats(p, src)
			}
		}
	})

	err = g.Wait()

	log.Info("Shutting down...")
	logStats(p, src)
	return err
}

func main() {
	ctx := SetupSignalHandler()

	cmd := &cli.Command{
		Name:   "pktcap",
		Usage:  "Lossy packet capture with a lock-free ring",
		Action: launch,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "interface",
				Aliases:  []string{"i"},
				Usage:    "Network interface to capture packets from",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "backend",
				Aliases: []string{"b"},
				Value:   capture.BackendPcap,
				Usage:   "Capture backend: pcap, afpacket or xdp",
			},
			&cli.Int32Flag{
				Name:    "snaplen",
				Aliases: []string{"s"},
				Value:   pktcap.DefaultSnapLen,
				Usage:   "Bytes of each packet to keep",
			},
			&cli.Int32Flag{
				Name:    "ring-size",
				Aliases: []string{"r"},
				Value:   pktcap.DefaultRingSize,
				Usage:   "Ring capacity in packets, must be a power of two",
			},
			&cli.Int32Flag{
				Name:  "sample",
				Value: pktcap.DefaultSampleRate,
				Usage: "Percent of packets to keep, 0-100",
			},
			&cli.StringFlag{
				Name:    "filter",
				Aliases: []string{"f"},
				Usage:   "BPF filter expression",
			},
			&cli.BoolFlag{
				Name:  "promisc",
				Value: true,
				Usage: "Capture in promiscuous mode",
			},
			&cli.StringFlag{
				Name:  "xdp-object",
				Value: "bpf/pktcap.bpf.o",
				Usage: "Compiled XDP object to load with the xdp backend",
			},
			&cli.DurationFlag{
				Name:  "stats-every",
				Value: 10 * time.Second,
				Usage: "Interval between statistics reports, 0 disables",
			},
			&cli.BoolFlag{
				Name:  "hex",
				Usage: "Print payloads as a hex dump",
			},
			&cli.BoolFlag{
				Name:    "quiet",
				Aliases: []string{"q"},
				Usage:   "Suppress per-packet output",
			},
		},
	}

	if err := cmd.Run(ctx, os.Args); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}
