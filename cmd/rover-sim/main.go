package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/edirooss/groundstation/internal/domain/link"
	"github.com/edirooss/groundstation/internal/roversim"
	"github.com/edirooss/groundstation/internal/settings"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "ground station settings file to take the link endpoints from")
	interval := flag.Duration("interval", 500*time.Millisecond, "telemetry publish interval")
	reply := flag.Bool("reply", false, "acknowledge every command to its sender")
	seed := flag.Uint64("seed", uint64(time.Now().UnixNano()), "random seed")
	flag.Parse()

	log := buildLogger()
	log = log.Named("rover_sim")

	cfg := link.Default()
	if *configPath != "" {
		st, err := settings.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load settings: %v\n", err)
			os.Exit(1)
		}
		cfg = st.LinkConfig()
	}

	listenAddr, err := net.ResolveUDPAddr("udp4", cfg.ServerEndpoint())
	if err != nil {
		log.Fatal("resolve command endpoint failed", zap.Error(err))
	}
	commands, err := net.ListenUDP("udp4", listenAddr)
	if err != nil {
		log.Fatal("listen failed", zap.String("addr", listenAddr.String()), zap.Error(err))
	}
	defer commands.Close()

	groupAddr, err := net.ResolveUDPAddr("udp4", cfg.TelemetryEndpoint())
	if err != nil {
		log.Fatal("resolve telemetry group failed", zap.Error(err))
	}
	telemetry, err := net.DialUDP("udp4", nil, groupAddr)
	if err != nil {
		log.Fatal("telemetry socket failed", zap.Error(err))
	}
	defer telemetry.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rover := roversim.NewState(*seed)
	log.Info("rover simulator running",
		zap.String("commands", listenAddr.String()),
		zap.String("telemetry", groupAddr.String()),
		zap.Duration("interval", *interval))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return serveCommands(gctx, log, commands, rover, *reply) })
	g.Go(func() error { return publishTelemetry(gctx, log, telemetry, rover, *interval) })
	if err := g.Wait(); err != nil {
		log.Fatal("simulator failed", zap.Error(err))
	}
	log.Info("rover simulator stopped", zap.Uint64("commands", rover.Commands()))
}

// serveCommands logs and applies every datagram received on conn.
func serveCommands(ctx context.Context, log *zap.Logger, conn *net.UDPConn, rover *roversim.State, reply bool) error {
	buf := make([]byte, 64<<10)
	for ctx.Err() == nil {
		_ = conn.SetReadDeadline(time.Now().Add(250 * time.Millisecond))
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return fmt.Errorf("read command: %w", err)
		}

		payload := buf[:n]
		log.Info("command", zap.String("from", from.String()), zap.ByteString("payload", payload))
		if err := rover.Apply(payload); err != nil {
			log.Warn("unparsable command", zap.Error(err))
			continue
		}
		if reply {
			ack := fmt.Appendf(nil, `{"ack":%d}`, rover.Commands())
			if _, err := conn.WriteToUDP(ack, from); err != nil {
				log.Warn("ack failed", zap.Error(err))
			}
		}
	}
	return nil
}

// publishTelemetry advances the rover and sends one datagram per tick.
func publishTelemetry(ctx context.Context, log *zap.Logger, conn *net.UDPConn, rover *roversim.State, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
		rover.Step(interval.Seconds())
		datagram, err := rover.Datagram()
		if err != nil {
			return fmt.Errorf("encode telemetry: %w", err)
		}
		if _, err := conn.Write(datagram); err != nil {
			log.Warn("publish failed", zap.Error(err))
			continue
		}
		log.Debug("telemetry", zap.ByteString("datagram", datagram))
	}
}

func buildLogger() *zap.Logger {
	logConfig := zap.NewDevelopmentConfig()
	logConfig.EncoderConfig.TimeKey = ""
	logConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	logConfig.DisableStacktrace = true
	logConfig.DisableCaller = true
	logConfig.Level.SetLevel(zap.DebugLevel)
	return zap.Must(logConfig.Build())
}
