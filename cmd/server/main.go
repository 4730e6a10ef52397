// Package main is the entry point for the goldbtc-metrics service, which
// derives dashboard metrics for a two-asset BTC/gold vault from subgraph
// data and serves them over HTTP.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/yourorg/goldbtc-metrics/internal/circuitbreaker"
	"github.com/yourorg/goldbtc-metrics/internal/config"
	"github.com/yourorg/goldbtc-metrics/internal/export"
	"github.com/yourorg/goldbtc-metrics/internal/fetch"
	"github.com/yourorg/goldbtc-metrics/internal/model"
	"github.com/yourorg/goldbtc-metrics/internal/otel"
	"github.com/yourorg/goldbtc-metrics/internal/poller"
	"github.com/yourorg/goldbtc-metrics/internal/security"
)

// startTime records when the service was initialized for uptime reporting
var startTime = time.Now()

// Server bundles the HTTP layer with everything it serves from
type Server struct {
	cfg     config.Config
	store   *poller.Store
	breaker *circuitbreaker.CircuitBreaker
	users   *fetch.UserClient

	attestor *security.Attestor
	exporter *export.Exporter

	metrics   *serverMetrics
	rateLimit *rate.Limiter

	server *http.Server
}

// serverMetrics holds Prometheus metrics for the service
type serverMetrics struct {
	requestCounter  *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	tvl             prometheus.Gauge
	protocolAPY     prometheus.Gauge
	ratioDeviation  prometheus.Gauge
	priceDeviation  prometheus.Gauge
	valuePerShare   prometheus.Gauge
	circuitState    prometheus.Gauge
}

// registerMetrics sets up Prometheus metrics collection
func registerMetrics() *serverMetrics {
	m := &serverMetrics{
		requestCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "goldbtc_requests_total",
				Help: "Total number of requests processed",
			},
			[]string{"endpoint", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "goldbtc_request_duration_seconds",
				Help:    "Request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		),
		tvl: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "goldbtc_tvl_usd",
			Help: "Vault total value locked in USD",
		}),
		protocolAPY: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "goldbtc_protocol_apy_percent",
			Help: "Annualized protocol yield in percent",
		}),
		ratioDeviation: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "goldbtc_ratio_deviation_pct",
			Help: "Deviation from the 50/50 value target in percentage points",
		}),
		priceDeviation: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "goldbtc_price_deviation_pct",
			Help: "Largest absolute 24h asset price move in percent",
		}),
		valuePerShare: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "goldbtc_value_per_share_usd",
			Help: "USD value of one LP share",
		}),
		circuitState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "goldbtc_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
	}

	prometheus.MustRegister(
		m.requestCounter,
		m.requestDuration,
		m.tvl,
		m.protocolAPY,
		m.ratioDeviation,
		m.priceDeviation,
		m.valuePerShare,
		m.circuitState,
	)

	return m
}

// observe updates the metric gauges from a freshly published set
func (m *serverMetrics) observe(d *model.DerivedMetrics) {
	m.tvl.Set(d.TVL)
	m.protocolAPY.Set(d.ProtocolAPY)
	m.ratioDeviation.Set(d.RatioDeviation)
	m.priceDeviation.Set(d.PriceDeviation)
	m.valuePerShare.Set(d.ValuePerShare)
}

func main() {
	// Local overrides; missing file is the normal case in production
	_ = godotenv.Load()

	setupLogging()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logrus.Fatalf("Invalid configuration: %v", err)
	}

	shutdownTracing := otel.InitTracer(cfg)
	defer shutdownTracing()

	server := NewServer(cfg)
	server.Start()
}

// setupLogging configures the logging for the application
func setupLogging() {
	logFormat := strings.ToLower(os.Getenv("LOG_FORMAT"))
	logLevel := strings.ToLower(os.Getenv("LOG_LEVEL"))

	switch logFormat {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	switch logLevel {
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "info":
		logrus.SetLevel(logrus.InfoLevel)
	case "warn", "warning":
		logrus.SetLevel(logrus.WarnLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}
}

// NewServer wires the store, poller sources, breaker and optional extras
func NewServer(cfg config.Config) *Server {
	store := poller.NewStore()

	breaker := circuitbreaker.New(circuitbreaker.Thresholds{
		MaxAPY:            cfg.MaxAPY,
		MaxTVLChange:      cfg.MaxTVLChange,
		MaxRatioDeviation: cfg.MaxRatioDeviation,
	}).WithResetDelay(cfg.CircuitResetDelay).WithTripCallback(func(reason string, _ *model.DerivedMetrics) {
		logrus.Warnf("Circuit breaker tripped: %s", reason)
	})

	s := &Server{
		cfg:     cfg,
		store:   store,
		breaker: breaker,
		users:   fetch.NewUserClient(cfg),
		metrics: registerMetrics(),
	}

	rps := config.GetEnvAsFloat("RATE_LIMIT_RPS", 10.0)
	burst := config.GetEnvAsInt("RATE_LIMIT_BURST", 20)
	s.rateLimit = rate.NewLimiter(rate.Limit(rps), burst)

	if config.GetEnvOrDefault("ATTESTATION_ENABLED", "false") == "true" {
		attestor, err := security.NewAttestor(security.Options{
			Enabled:  true,
			Validity: config.GetEnvAsDuration("ATTESTATION_VALIDITY", 24*time.Hour),
		})
		if err != nil {
			logrus.Warnf("Failed to initialize attestor: %v", err)
		} else {
			s.attestor = attestor
		}
	}

	s.exporter = export.New(export.Config{
		Enabled:        config.GetEnvOrDefault("METRICS_EXPORT_ENABLED", "false") == "true",
		BatchSize:      config.GetEnvAsInt("METRICS_EXPORT_BATCH_SIZE", 20),
		ExportInterval: config.GetEnvAsDuration("METRICS_EXPORT_INTERVAL", time.Minute),
		WebhookURL:     os.Getenv("WEBHOOK_URL"),
		WebhookAPIKey:  os.Getenv("WEBHOOK_API_KEY"),
	})

	logrus.WithFields(logrus.Fields{
		"port":          cfg.Port,
		"network":       cfg.Network,
		"poll_interval": cfg.PollInterval,
		"asset0":        cfg.Asset0Symbol,
		"asset1":        cfg.Asset1Symbol,
	}).Info("Server initialized")

	return s
}

// Start runs the poller and HTTP server until an interrupt arrives
func (s *Server) Start() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p := poller.New(s.cfg, fetch.NewProtocolClient(s.cfg), fetch.NewPriceClient(s.cfg), s.store, s.breaker).
		WithUpdateHook(func(d *model.DerivedMetrics) {
			s.metrics.observe(d)
			s.exporter.Add(d)
		})

	go func() {
		if err := p.Run(ctx); err != nil && err != context.Canceled {
			logrus.Errorf("Poller stopped: %v", err)
		}
	}()

	s.server = &http.Server{
		Addr:         ":" + s.cfg.Port,
		Handler:      s.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logrus.Infof("Server starting on port %s", s.cfg.Port)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("Error starting server: %v", err)
		}
	}()

	<-ctx.Done()

	logrus.Info("Server shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("Server shutdown failed: %v", err)
	}
	s.exporter.Stop()

	logrus.Info("Server stopped")
}
