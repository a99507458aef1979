// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package main

import (
	"context"
	"flag"
	"net"
	"os"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"google.golang.org/grpc"
	"k8s.io/client-go/rest"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
	"sigs.k8s.io/controller-runtime/pkg/manager"
	metricsserver "sigs.k8s.io/controller-runtime/pkg/metrics/server"

	"github.com/nodestat/telemetry-core/internal/engine"
	"github.com/nodestat/telemetry-core/internal/ingest"
	"github.com/nodestat/telemetry-core/internal/metricconfig"
	"github.com/nodestat/telemetry-core/internal/pull"
	"github.com/nodestat/telemetry-core/internal/pull/procpull"
	"github.com/nodestat/telemetry-core/internal/statsink"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

var (
	setupLog logr.Logger

	// CLI Options (alphabetical order)
	configDir   string
	dumpPeriod  time.Duration
	ingestAddr  string
	metricsAddr string
	probeAddr   string
	procRoot    string
)

func init() {
	flag.StringVar(&configDir, "config-dir", "/etc/telemetry-aggregator/metrics.d",
		"Directory of YAML metric-definition files, watched for hot reload.")
	flag.DurationVar(&dumpPeriod, "dump-period", time.Minute,
		"How often every registered producer's report is dumped.")
	flag.StringVar(&ingestAddr, "ingest-bind-address", ":9477",
		"The address the atom-ingestion gRPC service binds to.")
	flag.StringVar(&metricsAddr, "metrics-bind-address", ":8080",
		"The address the metric endpoint binds to. Set this to '0' to disable the metrics server")
	flag.StringVar(&probeAddr, "health-probe-bind-address", ":8081",
		"The address the probe endpoint binds to. Set this to '0' to disable the health probe server")
	flag.StringVar(&procRoot, "proc-root", "/proc",
		"Root of the /proc filesystem the illustrative load-average puller reads.")

	opts := zap.Options{}
	opts.BindFlags(flag.CommandLine)
	flag.Parse()

	ctrl.SetLogger(zap.New(zap.UseFlagOptions(&opts)))
	setupLog = ctrl.Log.WithName("setup")
}

// createManager builds the standalone controller-runtime manager this
// node-local daemon hosts its Runnables under. There is no Kubernetes
// controller here (unlike cmd/main.go's createManager, which conditions on
// -enable-k8s), so restConfig stays the zero value: manager.New never dials
// a cluster, only uses the type for its health/metrics server plumbing.
func createManager() (manager.Manager, error) {
	return manager.New(&rest.Config{}, manager.Options{
		Metrics:                metricsserver.Options{BindAddress: metricsAddr},
		HealthProbeBindAddress: probeAddr,
		LeaderElection:         false,
	})
}

// grpcRunnable adapts a *grpc.Server + net.Listener pair into a
// manager.Runnable, the same shape cmd/main.go gives every long-running
// component it hands to mgr.Add.
type grpcRunnable struct {
	server   *grpc.Server
	listener net.Listener
}

func (g *grpcRunnable) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- g.server.Serve(g.listener) }()

	select {
	case <-ctx.Done():
		g.server.GracefulStop()
		return nil
	case err := <-errCh:
		return err
	}
}

func main() {
	ctx := ctrl.SetupSignalHandler()

	mgr, err := createManager()
	if err != nil {
		setupLog.Error(err, "unable to start manager")
		os.Exit(1)
	}

	meterProvider := sdkmetric.NewMeterProvider()
	sink, err := statsink.New(meterProvider.Meter("telemetry-aggregator"))
	if err != nil {
		setupLog.Error(err, "unable to create statistics sink")
		os.Exit(1)
	}

	pullMgr := pull.NewManager(mgr.GetLogger())
	pullMgr.Register(procpull.New(procRoot))

	instanceID := uuid.NewString()
	setupLog.Info("starting telemetry-aggregator", "instance", instanceID)

	eng := engine.New(mgr.GetLogger(), newReportLogSink(mgr.GetLogger()), engine.WithDumpPeriod(dumpPeriod))
	if err := mgr.Add(eng); err != nil {
		setupLog.Error(err, "unable to register engine")
		os.Exit(1)
	}

	loader, err := metricconfig.New(configDir, eng, time.Now().UnixNano(), mgr.GetLogger(),
		metricconfig.WithPuller(pullMgr),
		metricconfig.WithNotifier(sink),
	)
	if err != nil {
		setupLog.Error(err, "unable to create metric config loader", "configDir", configDir)
		os.Exit(1)
	}
	if err := mgr.Add(loader); err != nil {
		setupLog.Error(err, "unable to register metric config loader")
		os.Exit(1)
	}

	lis, err := net.Listen("tcp", ingestAddr)
	if err != nil {
		setupLog.Error(err, "unable to bind ingest listener", "address", ingestAddr)
		os.Exit(1)
	}
	grpcServer := grpc.NewServer()
	ingest.NewServer(eng, mgr.GetLogger()).Register(grpcServer)
	if err := mgr.Add(&grpcRunnable{server: grpcServer, listener: lis}); err != nil {
		setupLog.Error(err, "unable to register ingest service")
		os.Exit(1)
	}

	if err := mgr.AddHealthzCheck("healthz", healthz.Ping); err != nil {
		setupLog.Error(err, "unable to set up health check")
		os.Exit(1)
	}
	if err := mgr.AddReadyzCheck("readyz", healthz.Ping); err != nil {
		setupLog.Error(err, "unable to set up ready check")
		os.Exit(1)
	}

	setupLog.Info("starting manager", "ingestAddress", ingestAddr, "configDir", configDir)
	if err := mgr.Start(ctx); err != nil {
		setupLog.Error(err, "problem running manager")
		os.Exit(1)
	}
}
