package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/Varn1t/traffic-intelligence/api"
	"github.com/Varn1t/traffic-intelligence/db"
	"github.com/Varn1t/traffic-intelligence/internal/config"
	"github.com/Varn1t/traffic-intelligence/internal/sinks/signalserial"
	"github.com/Varn1t/traffic-intelligence/internal/timeutil"
	"github.com/Varn1t/traffic-intelligence/internal/traffic"
)

var (
	configPath    = flag.String("config", "", "path to a tuning config JSON (default: bundled defaults)")
	dbFile        = flag.String("db", "traffic.db", "path to the event database")
	migrationsDir = flag.String("migrations", "db/migrations", "path to the schema migrations")
	listen        = flag.String("listen", ":8080", "HTTP listen address")
	ingest        = flag.String("ingest", ":9911", "UDP ingest address for observation frames")
	signalPort    = flag.String("signal-port", "", "serial port for the signal controller (empty = disabled)")
)

func main() {
	flag.Parse()

	if *listen == "" {
		log.Fatal("listen address is required")
	}

	var cfg *config.TuningConfig
	if *configPath != "" {
		var err error
		cfg, err = config.LoadTuningConfig(*configPath)
		if err != nil {
			log.Fatalf("failed to load config %q: %v", *configPath, err)
		}
	} else {
		cfg = config.MustLoadDefaultConfig()
	}

	database, err := db.NewDB(*dbFile)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer database.Close()
	if err := database.MigrateUp(*migrationsDir); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	var signalSink traffic.SignalSink
	if *signalPort != "" {
		sink, err := signalserial.Open(*signalPort)
		if err != nil {
			log.Fatalf("failed to open signal port: %v", err)
		}
		defer sink.Close()
		signalSink = sink
	}

	live := api.NewLiveHub()
	engine, err := traffic.NewEngine(traffic.EngineConfigFromTuning(cfg), timeutil.RealClock{}, database, signalSink, live)
	if err != nil {
		log.Fatalf("failed to build engine: %v", err)
	}
	defer engine.Close()

	server := api.NewServerWithHub(engine, database, live)

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// UDP ingest routine
	wg.Add(1)
	go func() {
		defer wg.Done()
		listener := traffic.NewUDPListener(traffic.UDPListenerConfig{Address: *ingest}, engine)
		if err := listener.Start(ctx); err != nil && err != context.Canceled {
			log.Printf("udp ingest stopped: %v", err)
		}
		log.Print("ingest routine terminated")
	}()

	// aggregation tick routine
	wg.Add(1)
	go func() {
		defer wg.Done()
		engine.Run(ctx)
		log.Print("tick routine terminated")
	}()

	// HTTP server routine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()
		if err := database.AttachAdminRoutes(mux); err != nil {
			log.Fatalf("failed to attach admin routes: %v", err)
		}
		mux.Handle("/api/", api.LoggingMiddleware(server.ServeMux()))

		httpServer := &http.Server{
			Addr:    *listen,
			Handler: mux,
		}

		go func() {
			log.Printf("HTTP listening on %s", *listen)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
		log.Print("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Print("graceful shutdown complete")
}
