// Command logjam-httpd is the standalone HTTP beacon ingress: it accepts
// minimal GET beacons from browsers over a raw TCP listener and republishes
// them as logjam envelopes on a PUB socket for downstream subscribers.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
	_ "go.uber.org/automaxprocs"

	"github.com/logjam-io/logjam-importer/internal/beacon"
	"github.com/logjam-io/logjam-importer/internal/config"
	"github.com/logjam-io/logjam-importer/internal/logging"
	"github.com/logjam-io/logjam-importer/internal/metrics"
	"github.com/logjam-io/logjam-importer/internal/transport"
)

func main() {
	// spec.md §6: "unknown option or missing argument => usage and exit 1".
	// The standard library's default command line exits with status 2 on a
	// parse error, so this one binary gets its own ContinueOnError flag set
	// to pick the exit code the spec names.
	fs := flag.NewFlagSet("logjam-httpd", flag.ContinueOnError)
	usage := func() {
		fmt.Fprintf(os.Stderr, "usage: logjam-httpd [-d device_number] [-t http_port] [-p pub_port] [-v]\n")
		fs.PrintDefaults()
	}
	fs.Usage = usage

	deviceNumber := fs.Int("d", -1, "device number to stamp onto published meta records (overrides BEACON_DEVICE_NUMBER)")
	httpPort := fs.Int("t", -1, "HTTP ingress TCP port (default 9705, overrides BEACON_HTTP_PORT)")
	pubPort := fs.Int("p", -1, "PUB socket port (default 9706, overrides BEACON_PUB_PORT)")
	verbose := fs.Bool("v", false, "verbose logging (overrides BEACON_VERBOSE)")

	if err := fs.Parse(os.Args[1:]); err != nil {
		usage()
		os.Exit(1)
	}
	if fs.NArg() > 0 {
		usage()
		os.Exit(1)
	}

	cfg, err := config.LoadBeaconConfig(nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logjam-httpd: %v\n", err)
		os.Exit(1)
	}

	if *deviceNumber >= 0 {
		cfg.DeviceNumber = uint32(*deviceNumber)
	}
	if *httpPort >= 0 {
		cfg.HTTPPort = *httpPort
	}
	if *pubPort >= 0 {
		cfg.PubPort = *pubPort
	}
	if *verbose {
		cfg.Verbose = true
	}
	if cfg.Verbose {
		cfg.LogLevel = "debug"
	}

	logger := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Name: "logjam-httpd"})
	cfg.LogConfig(logger)

	maxProcs := runtime.GOMAXPROCS(0)
	logger.Info().Int("gomaxprocs", maxProcs).Msg("GOMAXPROCS (via automaxprocs - rounds down to integer)")

	nc, err := transport.DialPub(cfg.NatsURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to downstream transport")
	}
	defer nc.Close()

	httpAddr := fmt.Sprintf(":%d", cfg.HTTPPort)
	stream, err := transport.ListenStream(httpAddr)
	if err != nil {
		logger.Fatal().Err(err).Str("addr", httpAddr).Msg("failed to bind HTTP ingress socket")
	}
	defer stream.Close()
	// Caps how fast accepted connections are handed to the single-threaded
	// parsing loop; a flood of beacons degrades to queuing instead of
	// starving the tick timer.
	stream.SetAcceptLimiter(rate.NewLimiter(rate.Limit(5000), 500))

	reg := prometheus.NewRegistry()
	sink := metrics.NewBeaconSink(reg, logger)

	ingress := beacon.New(beacon.Config{DeviceNumber: cfg.DeviceNumber}, stream, nc, sink, logger)

	stop := make(chan struct{})
	go ingress.Run(stop)

	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server stopped unexpectedly")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("shutting down beacon ingress")
	close(stop)
	_ = metricsSrv.Close()
}
