// Command satsim runs a satellite return link scenario: gateways plan
// superframes and broadcast TBTPs, terminals transmit their queued traffic in
// the granted timeslots.
package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/signalsfoundry/satcom-simulator/internal/config"
	"github.com/signalsfoundry/satcom-simulator/internal/logging"
	"github.com/signalsfoundry/satcom-simulator/internal/observability"
)

const serviceName = "satsim"

type options struct {
	scenarioPath string
	metricsAddr  string
	grpcAddr     string
	realtime     bool
	tick         time.Duration
	step         time.Duration
	linger       bool
}

func main() {
	var opts options
	flag.StringVar(&opts.scenarioPath, "scenario", "configs/scenario.yaml", "Path to a YAML or JSON scenario file")
	flag.StringVar(&opts.metricsAddr, "metrics-addr", ":9090", "HTTP address for Prometheus /metrics (empty disables)")
	flag.StringVar(&opts.grpcAddr, "grpc-addr", "", "TCP address of the gRPC health service (empty disables)")
	flag.BoolVar(&opts.realtime, "realtime", false, "pace simulation time with the wall clock")
	flag.DurationVar(&opts.tick, "tick", 100*time.Millisecond, "wall clock tick in real-time mode")
	flag.DurationVar(&opts.step, "step", time.Second, "simulated time between cancellation checks in accelerated mode")
	flag.BoolVar(&opts.linger, "linger", false, "keep serving metrics after the run until interrupted")
	flag.Parse()

	log := logging.NewFromEnv()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Error(ctx, "satsim failed", logging.Err(err))
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, log logging.Logger) error {
	sc, err := config.LoadScenario(opts.scenarioPath)
	if err != nil {
		return err
	}

	tracing := observability.TracingConfigFromEnv()
	tracing.Scenario = sc.Name
	tracing.Seed = sc.Seed
	shutdownTracing, err := observability.InitTracing(ctx, tracing, log)
	if err != nil {
		return err
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	log.Info(ctx, "loaded scenario",
		logging.String("path", opts.scenarioPath),
		logging.String("name", sc.Name),
		logging.Int("terminals", len(sc.Terminals)),
		logging.Int("gateways", len(sc.Gateways)),
		logging.Duration("duration", sc.Duration.D()),
	)

	reg := prometheus.NewRegistry()
	s, err := newSimulation(sc, reg, log)
	if err != nil {
		return err
	}

	metricsSrv := serveMetrics(opts.metricsAddr, reg, log)
	defer shutdownHTTP(metricsSrv)

	healthSrv := health.NewServer()
	if opts.grpcAddr != "" {
		lis, err := net.Listen("tcp", opts.grpcAddr)
		if err != nil {
			return err
		}
		grpcSrv, err := serveGRPC(lis, reg, healthSrv, log)
		if err != nil {
			_ = lis.Close()
			return err
		}
		defer grpcSrv.GracefulStop()
	}

	if err := s.start(); err != nil {
		return err
	}
	healthSrv.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)

	mode := "accelerated"
	if opts.realtime {
		mode = "realtime"
	}
	log.Info(ctx, "starting simulation", logging.String("mode", mode), logging.Time("epoch", sc.Epoch))
	started := time.Now()
	if opts.realtime {
		err = s.runRealtime(ctx, opts.tick)
	} else {
		err = s.runAccelerated(ctx, opts.step)
	}
	healthSrv.SetServingStatus(serviceName, healthpb.HealthCheckResponse_NOT_SERVING)
	if err != nil {
		return err
	}

	s.summarize(ctx)
	log.Info(ctx, "run complete", logging.Duration("wall_time", time.Since(started)))

	if opts.linger && metricsSrv != nil {
		log.Info(ctx, "serving metrics until interrupted")
		<-ctx.Done()
	}
	return nil
}

func serveMetrics(addr string, gatherer prometheus.Gatherer, log logging.Logger) *http.Server {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler(gatherer))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}

func shutdownHTTP(srv *http.Server) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}

// serveGRPC exposes the health service on lis.
func serveGRPC(lis net.Listener, reg prometheus.Registerer, healthSrv *health.Server, log logging.Logger) (*grpc.Server, error) {
	collector, err := observability.NewGRPCCollector(reg)
	if err != nil {
		return nil, err
	}

	server := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(collector.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(collector.StreamServerInterceptor()),
	)
	healthpb.RegisterHealthServer(server, healthSrv)

	log.Info(context.Background(), "starting gRPC health server", logging.String("addr", lis.Addr().String()))
	go func() {
		if err := server.Serve(lis); err != nil {
			log.Error(context.Background(), "gRPC server exited", logging.Err(err))
		}
	}()
	return server, nil
}
