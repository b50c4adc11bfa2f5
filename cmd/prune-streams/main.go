package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/edirooss/groundstation/internal/repo"
	"github.com/edirooss/groundstation/internal/settings"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	// CLI flags
	configPath := flag.String("config", settings.DefaultPath("groundstation.yaml", "/etc/groundstation/groundstation.yaml"), "path to the settings file")
	ids := flag.String("ids", "", "comma-separated stream ids to delete")
	all := flag.Bool("all", false, "delete every persisted stream")
	dryRun := flag.Bool("dry-run", false, "only list what would be deleted")
	flag.Parse()

	if (*ids == "") == !*all {
		fmt.Println("Usage: ./prune-streams [-config=<path>] (-ids=<id,id,...> | -all) [-dry-run]")
		os.Exit(1)
	}

	log := buildLogger()
	log = log.Named("main")

	st, err := settings.Load(*configPath)
	if err != nil {
		log.Fatal("settings load failed", zap.Error(err))
	}
	rp := repo.NewRepository(log, st.Redis.Address, st.Redis.Password, st.Redis.DB)
	defer rp.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var targets []string
	if *all {
		cfgs, err := rp.Streams.List(ctx)
		if err != nil {
			log.Fatal("stream listing failed", zap.Error(err))
		}
		for _, cfg := range cfgs {
			targets = append(targets, cfg.ID)
		}
	} else {
		for _, id := range strings.Split(*ids, ",") {
			if id = strings.TrimSpace(id); id != "" {
				targets = append(targets, id)
			}
		}
	}

	total := len(targets)
	for idx, id := range targets {
		if *dryRun {
			log.Info("would delete stream", zap.String("stream_id", id))
			continue
		}

		iterStart := time.Now()
		if err := rp.Streams.DeleteStream(ctx, id); err != nil {
			if errors.Is(err, repo.ErrStreamNotFound) {
				log.Warn("stream not persisted", zap.String("stream_id", id))
				continue
			}
			log.Fatal("stream deletion failed", zap.String("stream_id", id), zap.Error(err))
		}

		log.Info("stream deleted",
			zap.String("stream_id", id),
			zap.Int("deleted", idx+1),
			zap.Int("total", total),
			zap.Duration("took", time.Since(iterStart)),
		)
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
