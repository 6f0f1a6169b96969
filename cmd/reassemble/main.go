// Command reassemble is the CLI entry point: flag parsing, logging
// initialisation, signal handling, and wiring of the capture source into
// the registry and a periodic consumer. Purely peripheral per spec §1.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/namsral/flag"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/eyalzo/pcapflow/capture"
	"github.com/eyalzo/pcapflow/logging"
	"github.com/eyalzo/pcapflow/metrics"
	"github.com/eyalzo/pcapflow/reassembly"
)

// Config collects the flags that drive a single run, matching the
// teacher's Config-struct-plus-package-var convention.
type Config struct {
	Iface         string
	OfflineFile   string
	BPFFilter     string
	SnapLen       int
	Promisc       bool
	PollInterval  time.Duration
	MinReadyBytes int
	MetricsAddr   string
	Debug         bool
}

// parseFlags reads Config from CLI flags, falling back to environment
// variables of the same name (e.g. POLL_INTERVAL) via namsral/flag, the
// env-aware drop-in the teacher's upstream module depends on for this
// concern.
func parseFlags() Config {
	var c Config

	flag.StringVar(&c.Iface, "iface", "", "live interface to capture from")
	flag.StringVar(&c.OfflineFile, "r", "", "read frames from an offline pcap file instead of a live interface")
	flag.StringVar(&c.BPFFilter, "filter", "tcp", "BPF filter applied to live captures")
	flag.IntVar(&c.SnapLen, "snaplen", 262144, "snapshot length for live captures")
	flag.BoolVar(&c.Promisc, "promisc", true, "enable promiscuous mode for live captures")
	flag.DurationVar(&c.PollInterval, "poll-interval", time.Second, "interval between consumer polls of the registry")
	flag.IntVar(&c.MinReadyBytes, "min-ready-bytes", 1, "minimum bytes required for a non-closed connection to be considered ready")
	flag.StringVar(&c.MetricsAddr, "metrics-addr", "", "if set, serve Prometheus metrics on this address (e.g. :9090)")
	flag.BoolVar(&c.Debug, "debug", false, "enable debug-level logging")
	flag.Parse()

	return c
}

func main() {
	cfg := parseFlags()

	level := zapcore.InfoLevel
	if cfg.Debug {
		level = zapcore.DebugLevel
	}

	captureLog := logging.New("capture", level)
	registryLog := logging.New("registry", level)
	defer captureLog.Sync() //nolint:errcheck
	defer registryLog.Sync() //nolint:errcheck

	var mtr *metrics.Metrics
	if cfg.MetricsAddr != "" {
		mtr = metrics.New(prometheus.DefaultRegisterer)

		go func() {
			http.Handle("/metrics", promhttp.Handler())
			captureLog.Info("serving metrics", zap.String("addr", cfg.MetricsAddr))

			if err := http.ListenAndServe(cfg.MetricsAddr, nil); err != nil {
				captureLog.Error("metrics server exited", zap.Error(err))
			}
		}()
	}

	src, err := openSource(cfg)
	if err != nil {
		captureLog.Fatal("failed to open capture source", zap.Error(err))
	}
	defer src.Close() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		captureLog.Info("received shutdown signal")
		cancel()
	}()

	registry := reassembly.NewConnections()
	parser := capture.GopacketParser{}

	frames, err := src.Frames(ctx)
	if err != nil {
		captureLog.Fatal("failed to start capture", zap.Error(err))
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		ingest(ctx, registry, parser, frames, registryLog, mtr)
	}()

	consume(ctx, registry, cfg, registryLog, mtr)
	<-done

	counters := registry.Counters()
	fmt.Printf("packets: %d accepted, %d len-error, %d parse-error, %d non-tcp, %d connections\n",
		counters.PacketsAccepted, counters.PacketLenError, counters.PacketParseError,
		counters.PacketNotTCP, counters.LifetimeConns)
}

func openSource(cfg Config) (capture.Source, error) {
	if cfg.OfflineFile != "" {
		return capture.OpenOffline(cfg.OfflineFile)
	}

	return capture.OpenLive(cfg.Iface, int32(cfg.SnapLen), cfg.Promisc, cfg.BPFFilter)
}

// ingest is the single logical ingestion activity described in spec §5:
// it reads frames one at a time and calls Connections.ProcessPacket. All
// FlowBuff and Conn mutation happens via this call.
func ingest(ctx context.Context, registry *reassembly.Connections, parser reassembly.Parser, frames <-chan capture.Frame, log *zap.Logger, mtr *metrics.Metrics) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}

			result := registry.ProcessPacket(frame.CapturedLen, frame.WireLen, frame.Data, parser)
			logResult(log, result)
			observe(mtr, result)
		}
	}
}

func observe(mtr *metrics.Metrics, result reassembly.ProcessResult) {
	if mtr == nil {
		return
	}

	if !result.Accepted {
		mtr.ObservePacket("dropped")
		return
	}

	mtr.ObservePacket("accepted")
	if result.Created {
		mtr.IncConnectionsCreated()
	}
	if result.PayloadLen > 0 {
		mtr.ObserveBytes(result.Dir.String(), result.PayloadLen)
	}
	if result.SequenceAnomaly {
		mtr.IncSequenceAnomaly()
	}
	if result.OversizeReject {
		mtr.IncOversizeReject()
	}
}

func logResult(log *zap.Logger, result reassembly.ProcessResult) {
	if !result.Accepted {
		if result.ParseErr != nil {
			log.Warn("packet parse error", zap.Error(result.ParseErr))
		}
		return
	}

	if result.SequenceAnomaly {
		log.Warn("sequence anomaly",
			zap.String("dir", result.Dir.String()),
			zap.String("reason", result.AnomalyMsg),
			zap.String("conn", result.Conn.String()),
		)
	}
	if result.OversizeReject {
		log.Warn("oversize buffer write rejected",
			zap.String("dir", result.Dir.String()),
			zap.Int("need", result.OversizeNeed),
			zap.String("conn", result.Conn.String()),
		)
	}

	zapLevel := zapcore.Level(result.Level)
	if ce := log.Check(zapLevel, "packet processed"); ce != nil {
		ce.Write(
			zap.Uint64("conn_sequence", result.Conn.Sequence),
			zap.String("low_addr", result.Sig.LowAddr()),
			zap.String("high_addr", result.Sig.HighAddr()),
			zap.String("dir", result.Dir.String()),
			zap.String("conn", result.Conn.String()),
		)
	}
}

// consume is the separate consumer activity described in spec §5: it
// periodically asks the registry for connections whose buffers satisfy
// the readiness predicate, releasing the registry's lock before doing
// anything with the result.
func consume(ctx context.Context, registry *reassembly.Connections, cfg Config, log *zap.Logger, mtr *metrics.Metrics) {
	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ready := registry.GetConnectionsByRules(true, cfg.MinReadyBytes)

			if mtr != nil {
				mtr.SetLiveConnections(registry.Len())
			}

			for _, conn := range ready {
				if ce := log.Check(zapcore.DebugLevel, "connection ready"); ce != nil {
					ce.Write(zap.String("conn", conn.String()))
				}

				if log.Core().Enabled(zapcore.Level(reassembly.LevelTrace)) {
					spew.Dump(conn)
				}
			}
		}
	}
}
