package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/presence.report/internal/api"
	"github.com/banshee-data/presence.report/internal/capture"
	"github.com/banshee-data/presence.report/internal/config"
	"github.com/banshee-data/presence.report/internal/db"
	"github.com/banshee-data/presence.report/internal/detect"
	"github.com/banshee-data/presence.report/internal/monitoring"
	"github.com/banshee-data/presence.report/internal/pipeline"
	"github.com/banshee-data/presence.report/internal/presence"
	"github.com/banshee-data/presence.report/internal/render"
	"github.com/banshee-data/presence.report/internal/sink"
	"github.com/banshee-data/presence.report/internal/version"
)

var (
	configPath   = flag.String("config", "config.yaml", "Path to the JSON or YAML configuration file")
	envFile      = flag.String("env", ".env", "Optional dotenv file loaded before the config")
	listen       = flag.String("listen", ":8080", "HTTP listen address (empty disables the API)")
	synthetic    = flag.Bool("synthetic", false, "Use a synthetic camera instead of camera_source")
	syntheticFPS = flag.Float64("synthetic-fps", 15, "Frame rate of the synthetic camera")
	replayPath   = flag.String("replay", "", "JSON-lines detection fixture used instead of a detector service")
	trace        = flag.Bool("trace", false, "Enable per-frame trace logging")
	debugRoutes  = flag.Bool("debug", true, "Mount /debug/ admin routes (SQL console, backups)")
)

func usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintf(out, "Usage: %s [flags]\n", os.Args[0])
	fmt.Fprintf(out, "       %s version\n", os.Args[0])
	fmt.Fprintf(out, "       %s migrate [-db path] <command>\n\n", os.Args[0])
	flag.PrintDefaults()
}

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "version":
			fmt.Println(version.Get())
			return
		case "migrate":
			if err := runMigrate(os.Args[2:]); err != nil {
				log.Fatalf("migrate: %v", err)
			}
			return
		}
	}

	flag.Usage = usage
	flag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		log.Fatalf("failed to load %s: %v", *envFile, err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	configureLogging(*trace)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("presence: %v", err)
	}
	log.Printf("Graceful shutdown complete")
}

func runMigrate(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	dbPath := fs.String("db", "presence.db", "Path to the SQLite event store")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return db.RunMigrateCommand(fs.Args(), *dbPath, os.Stdout)
}

// configureLogging sends ops and diag output to stderr for every package;
// trace output only when enabled.
func configureLogging(traceEnabled bool) {
	w := monitoring.LogWriters{Ops: os.Stderr, Diag: os.Stderr}
	if traceEnabled {
		w.Trace = os.Stderr
	}
	capture.SetLogWriters(w)
	presence.SetLogWriters(w)
	pipeline.SetLogWriters(w)
	sink.SetLogWriters(w)
}

// run wires the pipeline, sinks and HTTP API and blocks until ctx is done.
func run(ctx context.Context, cfg *config.Config) error {
	zones, err := cfg.BuildZoneIndex()
	if err != nil {
		return err
	}
	log.Printf("loaded %d zones", zones.Len())

	var database *db.DB
	if path := cfg.GetDBPath(); path != "" {
		database, err = db.NewDB(path)
		if err != nil {
			return fmt.Errorf("failed to open event store: %w", err)
		}
		defer database.Close()
	}

	hub := sink.NewBroadcast(sink.DefaultSubscriberBuffer)
	sinks, err := buildSinks(cfg, database, hub)
	if err != nil {
		return err
	}
	defer func() {
		if err := sinks.Close(); err != nil {
			log.Printf("failed to close sinks: %v", err)
		}
	}()

	detector, closeDetector, err := buildDetector(cfg, *replayPath)
	if err != nil {
		return err
	}
	defer closeDetector()

	var dev capture.Device
	if *synthetic {
		dev = capture.NewSyntheticDevice(*syntheticFPS)
	} else {
		dev = capture.NewOpenCVDevice(cfg.GetCameraSource())
	}
	source := capture.NewSource(dev, capture.SourceConfig{
		ReconnectBackoff: cfg.GetReconnectBackoff(),
		ReadRetryBackoff: cfg.GetReadRetryBackoff(),
		MaxReadFailures:  cfg.GetMaxReadFailures(),
	})

	renderer := render.NewRenderer(zones)
	p, err := pipeline.New(pipeline.Config{
		Source:   source,
		Detector: detector,
		Filter: detect.Filter{
			TargetClass:   cfg.GetTargetClass(),
			MinConfidence: cfg.GetConfidenceThreshold(),
		},
		Tracker: presence.NewTracker(presence.Config{
			LostTimeout:     cfg.GetLostTimeout(),
			EmitZoneUpdates: cfg.GetEmitZoneUpdates(),
		}, zones),
		Sink:            sinks,
		Observers:       []pipeline.Observer{renderer},
		RelayCapacity:   cfg.GetRelayCapacity(),
		FlushOnShutdown: cfg.GetFlushOnShutdown(),
	})
	if err != nil {
		return err
	}

	var (
		wg     sync.WaitGroup
		runErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		runErr = p.Run(ctx)
		log.Printf("pipeline stopped")
	}()

	if *listen != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			serveHTTP(ctx, *listen, api.Config{
				DB:       database,
				Pipeline: p,
				Zones:    zones,
				Live:     hub,
				Snapshot: renderer,
			})
		}()
	}

	wg.Wait()
	// Hub closes last so live clients see the flushed departures.
	hub.Close()
	return runErr
}

// buildSinks assembles the configured event outputs. The live hub is always
// included.
func buildSinks(cfg *config.Config, database *db.DB, hub *sink.Broadcast) (sink.Multi, error) {
	var sinks sink.Multi
	fail := func(err error) (sink.Multi, error) {
		sinks.Close()
		return nil, err
	}

	if path := cfg.GetEventLog(); path != "" {
		s, err := sink.OpenCSV(path, sink.FormatEvents)
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, s)
	}
	if path := cfg.GetEpisodeLog(); path != "" {
		s, err := sink.OpenCSV(path, sink.FormatEpisodes)
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, s)
	}
	if database != nil {
		sinks = append(sinks, sink.NewDBSink(database))
	}
	if brokers := cfg.GetKafkaBrokers(); brokers != "" {
		s, err := sink.NewKafkaSink(brokers, cfg.GetKafkaTopic())
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, s)
	}
	// The hub is closed by run after the pipeline has flushed.
	sinks = append(sinks, sink.Func(hub.Write))
	return sinks, nil
}

// buildDetector picks the gRPC detector when detector_addr is set, else the
// replay fixture. One of the two is required.
func buildDetector(cfg *config.Config, replay string) (detect.Detector, func(), error) {
	if addr := cfg.GetDetectorAddr(); addr != "" {
		g, err := detect.NewGRPCDetector(addr, detect.WithModel(cfg.GetDetectorModel()))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create detector client: %w", err)
		}
		log.Printf("using detector service at %s (model %s)", addr, cfg.GetDetectorModel())
		return g, func() {
			if err := g.Close(); err != nil {
				log.Printf("failed to close detector client: %v", err)
			}
		}, nil
	}
	if replay != "" {
		r, err := detect.OpenReplayDetector(replay)
		if err != nil {
			return nil, nil, err
		}
		log.Printf("replaying %d fixture frames from %s", r.Len(), replay)
		return r, func() {}, nil
	}
	return nil, nil, errors.New("no detector: set detector_addr or pass -replay")
}

func serveHTTP(ctx context.Context, addr string, cfg api.Config) {
	mux := api.NewServer(cfg).ServeMux()
	if cfg.DB != nil && *debugRoutes {
		if err := cfg.DB.AttachAdminRoutes(mux); err != nil {
			log.Printf("failed to attach admin routes: %v", err)
		}
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           api.LoggingMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("HTTP API listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("HTTP server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}
	log.Printf("HTTP server routine stopped")
}
