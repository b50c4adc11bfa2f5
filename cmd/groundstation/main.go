package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/edirooss/groundstation/internal/capture"
	"github.com/edirooss/groundstation/internal/config"
	"github.com/edirooss/groundstation/internal/controllink"
	"github.com/edirooss/groundstation/internal/domain/stream"
	"github.com/edirooss/groundstation/internal/http/handler"
	mw "github.com/edirooss/groundstation/internal/http/middleware"
	"github.com/edirooss/groundstation/internal/infrastructure/processmgr"
	"github.com/edirooss/groundstation/internal/repo"
	"github.com/edirooss/groundstation/internal/service"
	"github.com/edirooss/groundstation/internal/settings"
	"github.com/edirooss/groundstation/internal/telemetry"
	"github.com/edirooss/groundstation/pkg/fmtt"
	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/secure"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

const frameQuality = 80

var configPath string

func init() {
	// Handle flags (-config, -v)
	handleFlags()
}

func main() {
	// Read env
	isDev := os.Getenv("ENV") == "dev"

	// Create Zap logger
	log := buildLogger(isDev)
	defer log.Sync()
	log = log.Named("main")

	// Load settings
	watcher, err := settings.NewWatcher(log, configPath, 0)
	if err != nil {
		log.Fatal("settings load failed", zap.String("path", configPath), zap.Error(err))
	}
	st := watcher.Current()
	log.Info("settings loaded", zap.String("path", watcher.Path()))
	if isDev {
		log.Debug("settings dump\n" + fmtt.Sdump(st))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Stream persistence (optional) ---
	var (
		persist  capture.Persister
		restored []stream.Config
	)
	if st.Redis.Enabled {
		rp := repo.NewRepository(log, st.Redis.Address, st.Redis.Password, st.Redis.DB)
		defer rp.Close()
		persist = rp.Streams

		listCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		restored, err = rp.Streams.List(listCtx)
		cancel()
		if err != nil {
			log.Warn("restoring streams failed; starting from the settings file only", zap.Error(err))
		}
	}

	// --- Telemetry fan-out ---
	var (
		sinks  []*telemetry.AsyncSink
		finder telemetry.Finder
	)
	if st.Postgres.Enabled {
		store, err := telemetry.NewPostgresStore(ctx, log, st.Postgres.DSN)
		if err != nil {
			log.Fatal("telemetry store creation failed", zap.Error(err))
		}
		defer store.Close(context.Background())
		if err := store.EnsureSchema(ctx); err != nil {
			log.Fatal("telemetry schema bootstrap failed", zap.Error(err))
		}
		finder = store
		sinks = append(sinks, telemetry.NewAsyncSink(log, "postgres", store, telemetry.SinkOptions{}))
	}
	if st.MQTT.Enabled {
		relay := telemetry.NewMQTTRelay(log, telemetry.MQTTOptions{
			Broker:      st.MQTT.Broker,
			ClientID:    st.MQTT.ClientID,
			TopicPrefix: st.MQTT.TopicPrefix,
		})
		if err := relay.Connect(ctx); err != nil {
			log.Warn("mqtt broker unreachable; relay keeps retrying", zap.Error(err))
		}
		defer relay.Close()
		sinks = append(sinks, telemetry.NewAsyncSink(log, "mqtt", relay, telemetry.SinkOptions{}))
	}
	dispatcher := telemetry.NewDispatcher(log, sinks...)
	querysvc := telemetry.NewQueryService(log, finder, telemetry.QueryOptions{})

	// --- Control link ---
	link := controllink.New(log)
	link.OnTelemetry(dispatcher.Handle)
	link.OnTimeoutChanged(func(degraded bool) {
		if degraded {
			log.Warn("rover link degraded")
		} else {
			log.Info("rover link restored")
		}
	})
	link.OnReply(func(b []byte) {
		log.Debug("rover reply", zap.ByteString("payload", b))
	})
	if err := link.Start(st.LinkConfig()); err != nil {
		log.Error("control link start failed; use POST /api/link/reconnect to retry", zap.Error(err))
	}
	defer link.Destroy()

	// --- Capture ---
	procs := processmgr.NewManager(log, st.Capture.MaxConcurrentOpens)
	defer procs.CloseAll()
	ffmpeg := capture.NewFFmpeg(log, procs, st.Capture.FFmpegPath, st.Capture.RecordingsDir, st.Capture.RecordFPS)

	strategy, err := capture.ParseStrategy(st.Capture.Mode)
	if err != nil {
		log.Fatal("invalid capture mode", zap.Error(err))
	}
	bus := capture.NewBus()
	defer bus.Close()
	reg := capture.NewRegistry(log, persist)
	for _, cfg := range restored {
		reg.Add(cfg)
	}
	sched := capture.NewScheduler(log, reg, bus, ffmpeg, capture.Options{
		Strategy:     strategy,
		IdleInterval: st.Capture.IdleInterval,
		Recorders:    ffmpeg,
	})
	sched.OnConfigChanged(st)

	hub, err := capture.NewFrameHub(log, bus, frameQuality, func(id string) bool {
		_, ok := reg.Get(id)
		return ok
	})
	if err != nil {
		log.Fatal("frame hub creation failed", zap.Error(err))
	}

	sched.Start()
	defer sched.Stop()

	// --- Settings observers ---
	for _, o := range []settings.Observer{
		link,
		sched,
		settings.ObserverFunc(func(s *settings.Settings) { procs.SetLimit(s.Capture.MaxConcurrentOpens) }),
	} {
		defer watcher.Register(o)()
	}

	// Create Gin router
	if !isDev {
		gin.SetMode(gin.ReleaseMode)
	}
	gin.DefaultWriter = zap.NewStdLog(log.Named("gin")).Writer() // Configure Gin's logger to use Zap
	r := gin.New()

	// Apply Gin middlewares
	{
		r.Use(gin.Recovery()) // Recovery first (outermost)
		r.Use(mw.RequestID()) // Attach request ID early so it's available everywhere

		if isDev { // Enable CORS for local dashboard dev
			r.Use(cors.New(cors.Config{
				AllowOrigins:  []string{"http://localhost:5173", "http://localhost:4173", "http://localhost:3000", "http://127.0.0.1:3000"},
				AllowMethods:  []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
				AllowHeaders:  []string{"X-Request-ID", "Content-Type"},
				ExposeHeaders: []string{"X-Request-ID", "X-Total-Count", "X-Cache", "X-Telemetry-Generated-At", "X-Frame-Seq", "Location"},
				MaxAge:        12 * time.Hour,
			}))
		} else { // Behind a TLS-terminating reverse proxy
			r.SetTrustedProxies([]string{"127.0.0.1"})
			r.Use(secure.New(secure.Config{
				FrameDeny:          true,
				ContentTypeNosniff: true,
				SSLProxyHeaders: map[string]string{
					"X-Forwarded-Proto": "https",
				},
			}))
		}

		r.Use(mw.AccessLog(log)) // Observability

		r.Use(func(c *gin.Context) {
			// Enforce a hard 10MB max request body.
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 10<<20)
			c.Next()
		})
	}

	// Register route handlers
	{
		// --- System ---
		r.GET("/api/ping", handler.Ping)
		r.GET("/api/version", handler.Version)

		// --- Streams ---
		{
			streamshndlr := handler.NewStreamsHandler(log, reg, sched, procs, hub)
			frameshndlr := handler.NewFramesHandler(log, reg, hub)

			streams := r.Group("/api/streams")
			streams.POST("", streamshndlr.CreateStream) // create one
			streams.GET("", streamshndlr.GetStreamList) // get list
			{
				one := streams.Group("/:id", mw.RequireValidStreamID())
				one.GET("", streamshndlr.GetStream)       // get one
				one.PUT("", streamshndlr.ReplaceStream)   // update one (replace/full-update)
				one.PATCH("", streamshndlr.ModifyStream)  // update one (modify/partial-update)
				one.DELETE("", streamshndlr.DeleteStream) // delete one
				one.PUT("/recording", streamshndlr.SetRecording)
				one.POST("/refresh", streamshndlr.RefreshStream)
				one.GET("/logs", streamshndlr.GetStreamLogs)
				one.GET("/frame.jpg", frameshndlr.GetFrame)
				one.GET("/mjpeg", mw.LimitConcurrentRequests(16), frameshndlr.GetMJPEG)
			}
		}

		// --- Capture ---
		{
			capturehndlr := handler.NewCaptureHandler(log, sched)
			r.GET("/api/capture", capturehndlr.GetStatus)
			r.PUT("/api/capture/strategy", capturehndlr.SetStrategy)
		}

		// --- Control link ---
		{
			linkhndlr := handler.NewLinkHandler(log, link)
			r.GET("/api/link", linkhndlr.GetStatus)
			r.POST("/api/link/commands", linkhndlr.SendCommand)
			r.POST("/api/link/reconnect", linkhndlr.Reconnect)

			addrhndlr := handler.NewLocalAddrHandler(log, service.NewLocalAddrLister(service.LocalAddrListerOptions{IncludeLoopback: isDev}))
			r.GET("/api/link/localaddrs", addrhndlr.GetLocalAddrList)
		}

		// --- Telemetry ---
		{
			telemetryhndlr := handler.NewTelemetryHandler(log, querysvc, dispatcher)
			r.GET("/api/telemetry/events", telemetryhndlr.GetEvents)
			r.GET("/api/telemetry/latest", telemetryhndlr.GetLatest)
		}
	}

	httpsrv := &http.Server{
		Addr:              net.JoinHostPort(st.HTTP.Address, strconv.Itoa(st.HTTP.Port)),
		Handler:           r,
		ReadHeaderTimeout: 2 * time.Second,  // kills header-drip Slowloris
		ReadTimeout:       10 * time.Second, // full request read (incl. body)
		WriteTimeout:      15 * time.Second, // MJPEG lifts this per request
		IdleTimeout:       60 * time.Second, // keep-alive cap
		MaxHeaderBytes:    1 << 20,          // 1MB cap
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return watcher.Run(gctx) })
	g.Go(func() error { return hub.Run(gctx) })
	for _, s := range sinks {
		g.Go(func() error { return s.Run(gctx) })
	}
	g.Go(func() error {
		log.Info("running HTTP server", zap.String("addr", httpsrv.Addr))
		if err := httpsrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpsrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("shutting down", zap.Error(err))
	}
	log.Info("server closed")
}

// handleFlags parses the command line. -v/--version prints build metadata
// and exits.
func handleFlags() {
	flag.StringVar(&configPath, "config", settings.DefaultPath("groundstation.yaml", "/etc/groundstation/groundstation.yaml"), "path to the settings file")
	v := flag.Bool("v", false, "print version and exit")
	flag.BoolVar(v, "version", false, "print version and exit")
	flag.Parse()

	if *v {
		fmt.Printf("groundstation %s (commit %s, built %s)\n", config.Version, config.GitCommit, config.BuildDate)
		os.Exit(0)
	}
}

// helpers

func buildLogger(debug bool) *zap.Logger {
	logConfig := zap.NewDevelopmentConfig()
	logConfig.EncoderConfig.TimeKey = ""
	logConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	logConfig.DisableStacktrace = true
	logConfig.DisableCaller = true
	if debug {
		logConfig.Level.SetLevel(zap.DebugLevel)
	} else {
		logConfig.Level.SetLevel(zap.InfoLevel)
	}
	return zap.Must(logConfig.Build())
}
