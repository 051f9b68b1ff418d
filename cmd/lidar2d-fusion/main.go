// Command lidar2d-fusion is the composition root: it parses flags, wires
// the bus adapter, the configuration controller, the pipeline
// orchestrator, and the optional history store and health server, then
// runs them all until a shutdown signal arrives.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/lidar2d-fusion/internal/bus"
	"github.com/banshee-data/lidar2d-fusion/internal/bus/mqttbus"
	"github.com/banshee-data/lidar2d-fusion/internal/config"
	"github.com/banshee-data/lidar2d-fusion/internal/fsutil"
	"github.com/banshee-data/lidar2d-fusion/internal/healthsrv"
	"github.com/banshee-data/lidar2d-fusion/internal/pipeline"
	"github.com/banshee-data/lidar2d-fusion/internal/store/sqlite"
	"github.com/banshee-data/lidar2d-fusion/internal/taskctx"
)

var (
	tetherHost     = flag.String("tether.host", "tcp://localhost:1883", "message bus broker address")
	tetherUsername = flag.String("tether.username", "", "message bus username")
	tetherPassword = flag.String("tether.password", "", "message bus password")
	mqttClientID   = flag.String("mqtt.clientid", "", "MQTT client id (default: random)")

	topicPrefix = flag.String("topicPrefix", "lidar2d", "topic prefix for all inbound/outbound topics")

	configPath = flag.String("config", "lidar2d-fusion.json", "path to the persisted configuration document")

	includeOutside = flag.Bool("perspectiveTransform.includeOutside", false, "emit ROI-projected points that fall outside the unit square")

	clusterEps            = flag.Float64("cluster.eps", 0.5, "DBSCAN neighbourhood radius, metres")
	clusterMinPoints      = flag.Int("cluster.minPoints", 3, "DBSCAN minimum points to form a cluster")
	clusterMaxClusterSize = flag.Int("cluster.maxClusterSize", 50, "drop clusters larger than this many points")

	trackMaxMatchDistance = flag.Float64("tracking.maxMatchDistance", 0.1, "hard gate on track/detection matching distance")
	trackTimeout          = flag.Uint64("tracking.trackTimeout", 10, "frames of absence before a track is retired")
	trackAlpha            = flag.Float64("tracking.alpha", 0.5, "position smoothing factor")
	trackBeta             = flag.Float64("tracking.beta", 0.3, "velocity smoothing factor")
	trackMinMatchCount    = flag.Int("tracking.minMatchCount", 3, "observations required before a track is emitted")

	publishIntervalMS = flag.Int("publishInterval", 33, "periodic republish tick interval, milliseconds")

	historySqlite = flag.String("history.sqlite", "", "path to an optional SQLite history database (empty disables recording)")
	healthListen  = flag.String("health.listen", "", "listen address for the gRPC health service (empty disables)")

	logLevel = flag.String("loglevel", "info", "log level (unused beyond display; every log line is emitted regardless)")
)

func main() {
	os.Exit(run())
}

func run() int {
	flag.Parse()

	if *tetherHost == "" {
		fmt.Fprintln(os.Stderr, "lidar2d-fusion: --tether.host is required")
		return 2
	}

	log.Printf("lidar2d-fusion starting (loglevel=%s, topicPrefix=%s)", *logLevel, *topicPrefix)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mqttCfg := mqttbus.DefaultConfig(*tetherHost)
	mqttCfg.Username = *tetherUsername
	mqttCfg.Password = *tetherPassword
	mqttCfg.ClientID = *mqttClientID
	client := mqttbus.New(mqttCfg)

	controller := config.New(fsutil.OSFileSystem{}, *configPath, bus.ConfigPublisher{Bus: client, Ctx: ctx}, *topicPrefix+"/provideLidarConfig")
	controller.SetDefaultIncludeOutside(*includeOutside)
	if err := controller.Load(); err != nil {
		log.Printf("lidar2d-fusion: failed to load config: %v", err)
		return 1
	}
	seedDefaultsFromFlags(controller)

	interval := time.Duration(*publishIntervalMS) * time.Millisecond
	p := pipeline.New(controller, client, *topicPrefix, interval)

	var health *healthsrv.Server
	if *healthListen != "" {
		health = healthsrv.New(*healthListen)
		p.SetReadinessHook(health.MarkServing)
	}

	var store *sqlite.Store
	if *historySqlite != "" {
		var err error
		store, err = sqlite.Open(*historySqlite)
		if err != nil {
			log.Printf("lidar2d-fusion: failed to open history store: %v", err)
			return 1
		}
		defer store.Close()
		p.SetHistorySink(store)
	}

	var wg sync.WaitGroup
	runTask := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, taskctx.ErrCancelled) {
				log.Printf("lidar2d-fusion: %s exited: %v", name, err)
			}
			log.Printf("lidar2d-fusion: %s stopped", name)
		}()
	}

	// The bus task is run separately from the others so a failure to bind
	// on startup (spec.md §6's fatal bus-bind-on-startup error class) can
	// be surfaced as exit code 1 instead of only logged.
	busErrCh := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		err := client.Run(ctx)
		if err != nil && !errors.Is(err, taskctx.ErrCancelled) {
			log.Printf("lidar2d-fusion: bus exited: %v", err)
		}
		log.Print("lidar2d-fusion: bus stopped")
		busErrCh <- err
	}()

	runTask("config writer", func(c context.Context) error { controller.Run(c); return nil })
	runTask("pipeline", p.Run)
	if store != nil {
		runTask("history store", store.Run)
	}
	if health != nil {
		runTask("health server", health.Run)
	}

	select {
	case <-ctx.Done():
		log.Print("lidar2d-fusion: shutdown signal received, draining tasks")
		wg.Wait()
		log.Print("lidar2d-fusion: clean shutdown complete")
		return 0
	case err := <-busErrCh:
		if err != nil && !errors.Is(err, taskctx.ErrCancelled) {
			log.Printf("lidar2d-fusion: fatal: bus failed to start: %v", err)
			stop()
			wg.Wait()
			return 1
		}
		<-ctx.Done()
		wg.Wait()
		log.Print("lidar2d-fusion: clean shutdown complete")
		return 0
	}
}

// seedDefaultsFromFlags folds the CLI-supplied cluster and tracking
// parameters into the loaded config on startup, so a fresh deployment
// with no persisted document still runs with the operator's tuning
// rather than the package defaults. A loaded config that already has a
// device or an ROI is left untouched; any other loaded config has its
// cluster and tracking parameters replaced by the flag values, saved
// through the controller like any other update.
func seedDefaultsFromFlags(controller *config.Controller) {
	snap := controller.Current()
	if len(snap.Config.Devices) > 0 || snap.Config.ROI != nil {
		return
	}

	next := snap.Config.Clone()
	next.ClusterParams.Eps = *clusterEps
	next.ClusterParams.MinPoints = *clusterMinPoints
	next.ClusterParams.MaxClusterSize = *clusterMaxClusterSize
	next.TrackingParams.MaxMatchDistance = *trackMaxMatchDistance
	next.TrackingParams.TrackTimeout = *trackTimeout
	next.TrackingParams.Alpha = *trackAlpha
	next.TrackingParams.Beta = *trackBeta
	next.TrackingParams.MinMatchCount = *trackMinMatchCount

	if err := config.Validate(next); err != nil {
		log.Printf("lidar2d-fusion: flag-seeded config is invalid, keeping package defaults: %v", err)
		return
	}
	if err := controller.Save(next); err != nil {
		log.Printf("lidar2d-fusion: failed to apply flag-seeded config: %v", err)
	}
}
