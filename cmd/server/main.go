package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof" // Enable pprof
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vdetect/streamguard/internal/hub"
	"github.com/vdetect/streamguard/internal/logger"
	"github.com/vdetect/streamguard/internal/metrics"
	"github.com/vdetect/streamguard/internal/notify"
	"github.com/vdetect/streamguard/internal/orchestrator"
	"github.com/vdetect/streamguard/internal/settings"
	"github.com/vdetect/streamguard/internal/store"
	"github.com/vdetect/streamguard/internal/stream"
	"github.com/vdetect/streamguard/internal/web"
)

var (
	// Command-line flags
	httpAddr      = flag.String("http", ":8003", "HTTP server address")
	metricsAddr   = flag.String("metrics", ":9090", "Metrics server address")
	pprofAddr     = flag.String("pprof", ":6060", "pprof server address")
	dbPath        = flag.String("db", "./streamguard.db", "Event database path (empty disables persistence)")
	allowedOrigin = flag.String("origin", "http://localhost:3000", "Allowed CORS origin")
	inferenceURL  = flag.String("inference", "http://localhost:8000", "Inference backend base URL")
	modelName     = flag.String("model", "violence_model", "Inference model name")
	telegramToken = flag.String("telegram-token", "", "Telegram bot token (empty disables notifications)")
	telegramChat  = flag.String("telegram-chat", "", "Telegram chat id")
	logLevel      = flag.String("log-level", "info", "Log level (debug, info, warn, error, silent)")
	logColor      = flag.Bool("log-color", true, "Enable colored log output")
)

// Server owns the long-lived components and their shutdown order.
type Server struct {
	ctx    context.Context
	cancel context.CancelFunc

	sets     *settings.Store
	metrics  *metrics.Metrics
	registry *stream.Registry
	hub      *hub.Hub
	engine   *notify.Engine
	telegram *notify.Telegram
	store    *store.Store
	pump     *orchestrator.Orchestrator

	httpServer *http.Server
	pumpDone   chan struct{}
}

func main() {
	flag.Parse()

	level, err := logger.ParseLevel(*logLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, *logColor)

	logger.Info("Main", "Violence detection server starting...")
	logger.Info("Main", "Log level: %s", level)

	srv, err := NewServer()
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	if err := srv.Start(); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down...")

	if err := srv.Shutdown(); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}

	log.Println("Server stopped")
}

// NewServer wires all components from flags.
func NewServer() (*Server, error) {
	ctx, cancel := context.WithCancel(context.Background())

	defaults := settings.Default()
	defaults.InferenceURL = *inferenceURL
	defaults.ModelName = *modelName
	if *telegramToken != "" && *telegramChat != "" {
		defaults.Telegram.BotToken = *telegramToken
		defaults.Telegram.ChatID = *telegramChat
		defaults.Telegram.Enabled = true
	}

	sets, err := settings.NewStore(defaults)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("invalid default settings: %w", err)
	}

	m := metrics.New()

	var st *store.Store
	if *dbPath != "" {
		st, err = store.Open(*dbPath)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("open event store: %w", err)
		}
	}

	telegram := notify.NewTelegram(sets)
	engine := notify.NewEngine(sets, m, telegram)
	registry := stream.NewRegistry(sets, m)
	h := hub.New(m)
	pump := orchestrator.New(registry, h, engine, st)

	webSrv := web.NewServer(web.Config{
		Addr:          *httpAddr,
		AllowedOrigin: *allowedOrigin,
	}, sets, registry, h, engine, st, telegram)

	srv := &Server{
		ctx:      ctx,
		cancel:   cancel,
		sets:     sets,
		metrics:  m,
		registry: registry,
		hub:      h,
		engine:   engine,
		telegram: telegram,
		store:    st,
		pump:     pump,
		httpServer: &http.Server{
			Addr:    *httpAddr,
			Handler: webSrv.Handler(),
		},
		pumpDone: make(chan struct{}),
	}
	return srv, nil
}

// Start starts all server components.
func (s *Server) Start() error {
	log.Printf("Starting violence detection server...")
	log.Printf("  HTTP server: %s", *httpAddr)
	log.Printf("  Metrics server: %s", *metricsAddr)
	log.Printf("  pprof server: %s", *pprofAddr)
	log.Printf("  Inference backend: %s", *inferenceURL)

	// Start pprof server
	go func() {
		log.Printf("Starting pprof server on %s", *pprofAddr)
		if err := http.ListenAndServe(*pprofAddr, nil); err != nil {
			log.Printf("pprof server error: %v", err)
		}
	}()

	// Start metrics server
	go func() {
		log.Printf("Starting metrics server on %s", *metricsAddr)
		if err := s.metrics.StartServer(*metricsAddr); err != nil {
			log.Printf("Metrics server error: %v", err)
		}
	}()

	// Start HTTP server
	go func() {
		log.Printf("Starting HTTP server on %s", *httpAddr)
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("HTTP server error: %v", err)
		}
	}()

	// Start the result pump
	go func() {
		defer close(s.pumpDone)
		s.pump.Run(s.ctx)
	}()

	if s.store != nil {
		_ = s.store.SaveSystemEvent("startup", "Server started", "")
	}

	log.Println("Server started successfully")
	return nil
}

// Shutdown stops components in dependency order: streams first so no new
// results appear, then the pump, then the outbound surfaces.
func (s *Server) Shutdown() error {
	s.registry.StopAll()

	s.cancel()
	select {
	case <-s.pumpDone:
	case <-time.After(5 * time.Second):
		logger.Warn("Main", "Orchestrator did not stop in time")
	}

	s.engine.Flush()
	s.hub.CloseAll()

	if s.store != nil {
		_ = s.store.SaveSystemEvent("shutdown", "Server stopped", "")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}
