/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package app wires the ratekit service: configuration, the rate-limit facade,
// the HTTP server with its API and the sweeper of expired windows.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/carelog/ratekit/config"
	"github.com/carelog/ratekit/httpserver"
	"github.com/carelog/ratekit/httpserver/middleware"
	"github.com/carelog/ratekit/internal/ratelimit"
	"github.com/carelog/ratekit/internal/version"
	"github.com/carelog/ratekit/log"
	"github.com/carelog/ratekit/lrucache"
	"github.com/carelog/ratekit/profserver"
	"github.com/carelog/ratekit/restapi"
	"github.com/carelog/ratekit/service"
)

// Service identity.
const (
	ServiceName      = "ratekit"
	ErrorDomain      = "Ratekit"
	MetricsNamespace = "ratekit"
	EnvVarsPrefix    = "RATEKIT"
)

const (
	healthComponentFacade = "rate-limit-facade"
	sweeperStopTimeout    = 5 * time.Second
)

// Config aggregates all configuration sections of the service.
type Config struct {
	Server     *httpserver.Config
	ProfServer *profserver.Config
	Log        *log.Config
	RateLimit  *RateLimitConfig
}

// NewConfig creates a Config with empty sections ready to be loaded.
func NewConfig() *Config {
	return &Config{
		Server:     httpserver.NewConfig(),
		ProfServer: profserver.NewConfig(),
		Log:        log.NewConfig(),
		RateLimit:  NewRateLimitConfig(),
	}
}

// LoadConfig loads the configuration from the YAML or JSON file (chosen by its extension),
// or from defaults and environment variables when path is empty.
func LoadConfig(path string) (*Config, error) {
	cfg := NewConfig()
	loader := config.NewDefaultLoader(EnvVarsPrefix)
	sections := cfg.sections()
	var err error
	if path == "" {
		err = loader.LoadDefaults(sections[0], sections[1:]...)
	} else {
		var dataType config.DataType
		if dataType, err = config.DataTypeFromPath(path); err == nil {
			err = loader.LoadFromFile(path, dataType, sections[0], sections[1:]...)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) sections() []config.Config {
	return []config.Config{c.Server, c.ProfServer, c.Log, c.RateLimit}
}

// Opts contains optional parameters of App.
type Opts struct {
	// FacadeOptions are passed to ratelimit.NewFacade after the ones set by App.
	FacadeOptions []ratelimit.FacadeOption
	// MetricsGatherer is used by the /metrics endpoint. Defaults to prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// App is the ratekit service unit: the HTTP server, the sweeper of expired windows
// and, when enabled, the profiling server.
// It implements service.Unit and service.MetricsRegisterer.
type App struct {
	Facade *ratelimit.Facade
	Server *httpserver.HTTPServer
	Logger log.FieldLogger

	unit         *service.CompositeUnit
	facadeMetric *ratelimit.PrometheusMetrics
	storeMetrics *lrucache.PrometheusMetrics
	buildInfo    prometheus.Collector
}

var _ service.Unit = (*App)(nil)
var _ service.MetricsRegisterer = (*App)(nil)

// New creates the App.
func New(cfg *Config, logger log.FieldLogger, opts Opts) (*App, error) {
	if opts.MetricsGatherer == nil {
		opts.MetricsGatherer = prometheus.DefaultGatherer
	}

	facadeMetrics := ratelimit.NewPrometheusMetrics(MetricsNamespace)
	storeMetrics := lrucache.NewPrometheusMetricsWithOpts(lrucache.PrometheusMetricsOpts{
		Namespace:   MetricsNamespace,
		ConstLabels: prometheus.Labels{"cache": "rate_limit_windows"},
	})
	facadeOpts := append([]ratelimit.FacadeOption{
		ratelimit.WithMetrics(facadeMetrics),
		ratelimit.WithStoreMetrics(storeMetrics),
	}, opts.FacadeOptions...)
	facade, err := ratelimit.NewFacade(cfg.RateLimit.FacadeConfig(), logger, facadeOpts...)
	if err != nil {
		return nil, fmt.Errorf("create rate limit facade: %w", err)
	}

	rateLimitMiddleware, err := middleware.RateLimit(facade, ErrorDomain, cfg.RateLimit.RateLimitOpts())
	if err != nil {
		_ = facade.Close()
		return nil, fmt.Errorf("create rate limit middleware: %w", err)
	}

	srv := httpserver.New(cfg.Server, logger, httpserver.Opts{
		ServiceNameInURL: ServiceName,
		APIRoutes: map[httpserver.APIVersion]httpserver.APIRoute{
			1: APIRoutes(facade, ErrorDomain, logger),
		},
		RootMiddlewares:  []func(http.Handler) http.Handler{rateLimitMiddleware},
		ErrorDomain:      ErrorDomain,
		HealthCheck:      makeHealthCheck(facade),
		MetricsHandler:   promhttp.HandlerFor(opts.MetricsGatherer, promhttp.HandlerOpts{}),
		MetricsNamespace: MetricsNamespace,
	})

	units := []service.Unit{srv}
	if sweepInterval := time.Duration(cfg.RateLimit.Store.SweepInterval); sweepInterval > 0 {
		units = append(units, service.NewWorkerUnitWithOpts(
			service.NewPeriodicWorker(newSweepWorker(facade, logger), sweepInterval, logger),
			service.WorkerUnitOpts{GracefulStopTimeout: sweeperStopTimeout},
		))
	}
	if cfg.ProfServer != nil && cfg.ProfServer.Enabled {
		units = append(units, profserver.New(cfg.ProfServer, logger))
	}

	logger.Info("ratekit is configured",
		log.String("version", version.Get()),
		log.Bool("rate_limit_enabled", facade.Enabled()),
		log.Bool("redis_enabled", cfg.RateLimit.Redis.Enabled),
		log.Int("namespaces", len(facade.Namespaces())),
	)

	return &App{
		Facade:       facade,
		Server:       srv,
		Logger:       logger,
		unit:         service.NewCompositeUnit(units...),
		facadeMetric: facadeMetrics,
		storeMetrics: storeMetrics,
		buildInfo:    version.NewBuildInfoCollector(MetricsNamespace),
	}, nil
}

// Start starts all units of the service.
func (a *App) Start(fatalError chan<- error) {
	a.unit.Start(fatalError)
}

// Stop stops all units of the service, then releases the facade resources.
func (a *App) Stop(gracefully bool) error {
	stopErr := a.unit.Stop(gracefully)
	if err := a.Facade.Close(); err != nil {
		a.Logger.Error("failed to close rate limit facade", log.Error(err))
		if stopErr == nil {
			stopErr = err
		}
	}
	return stopErr
}

// MustRegisterMetrics registers all metrics of the service.
func (a *App) MustRegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(a.facadeMetric, a.storeMetrics, a.buildInfo)
	restapi.MustInitAndRegisterMetrics(MetricsNamespace, reg)
	a.unit.MustRegisterMetrics(reg)
}

// UnregisterMetrics unregisters all metrics of the service.
func (a *App) UnregisterMetrics(reg prometheus.Registerer) {
	reg.Unregister(a.facadeMetric)
	reg.Unregister(a.storeMetrics)
	reg.Unregister(a.buildInfo)
	restapi.UnregisterMetrics(reg)
	a.unit.UnregisterMetrics(reg)
}

// makeHealthCheck reports the facade unhealthy when it is enabled but has nothing to limit.
func makeHealthCheck(facade *ratelimit.Facade) httpserver.HealthCheck {
	return func(ctx context.Context) (httpserver.HealthCheckResult, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		status := httpserver.HealthCheckStatusOK
		if facade.Enabled() && len(facade.Namespaces()) == 0 {
			status = httpserver.HealthCheckStatusFail
		}
		return httpserver.HealthCheckResult{healthComponentFacade: status}, nil
	}
}

func newSweepWorker(facade *ratelimit.Facade, logger log.FieldLogger) service.Worker {
	return service.WorkerFunc(func(ctx context.Context) error {
		startTime := time.Now()
		removed := facade.Sweep(facade.Now())
		logger.Debug("expired rate limit windows are swept",
			log.Int("removed", removed),
			log.Int("remaining", facade.Store().Len()),
			log.DurationIn(time.Since(startTime), time.Millisecond),
		)
		return nil
	})
}
