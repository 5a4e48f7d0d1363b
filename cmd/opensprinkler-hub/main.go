package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"opensprinkler/pkg/drivers/opensprinkler"
	"opensprinkler/pkg/drivers/simulator"
	"opensprinkler/pkg/hub"
	"opensprinkler/pkg/sprinkler"
	"opensprinkler/templates"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"
	cli "github.com/urfave/cli/v2"
	bolt "go.etcd.io/bbolt"
)

// applyFlags copies the controller flags that were set on the command line or
// in the environment into cfg and reports whether any was set.
func applyFlags(c *cli.Context, cfg *opensprinkler.Config) bool {
	changed := false
	if c.IsSet("host") {
		cfg.Host, changed = c.String("host"), true
	}
	if c.IsSet("name") {
		cfg.Name, changed = c.String("name"), true
	}
	if c.IsSet("password") {
		cfg.Password, changed = c.String("password"), true
	}
	if c.IsSet("timeout") {
		cfg.Timeout, changed = c.Int("timeout"), true
	}
	if c.IsSet("default-runtime") {
		cfg.DefaultRuntime, changed = c.Int("default-runtime"), true
	}
	if c.IsSet("full-refresh") {
		cfg.Refresh, changed = c.Int("full-refresh"), true
	}
	if c.IsSet("retries") {
		cfg.Retries, changed = c.Int("retries"), true
	}
	return changed
}

// controllerConfig loads the stored controller configuration, applies the
// flags and writes the result back when a flag was set.
func controllerConfig(c *cli.Context, store *opensprinkler.Store) (opensprinkler.Config, error) {
	cfg, err := store.GetConfig()
	if err != nil {
		return cfg, fmt.Errorf("failed to read controller config: %v", err)
	}

	if applyFlags(c, &cfg) {
		if err := store.SetConfig(cfg); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

// simulatorConfig builds the configuration of a simulated controller from the
// defaults and the flags. The stored configuration is left alone.
func simulatorConfig(c *cli.Context) (opensprinkler.Config, error) {
	cfg := opensprinkler.DefaultConfig()
	cfg.Host = "simulator"
	applyFlags(c, &cfg)
	return cfg, cfg.Validate()
}

func mqttConfig(c *cli.Context, store *hub.Store) (hub.MQTTConfig, error) {
	cfg, err := store.GetMQTTConfig()
	if err != nil {
		return cfg, fmt.Errorf("failed to read MQTT config: %v", err)
	}

	if c.IsSet("mqtt-broker") {
		cfg.Enabled = true
		cfg.Broker = c.String("mqtt-broker")
		if err := store.SetMQTTConfig(cfg); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

func run(c *cli.Context) error {
	if c.Bool("debug") {
		log.SetLevel(log.DebugLevel)
	}

	log.Info("OpenSprinkler Hub")

	tmpl, err := templates.LoadTemplates()
	if err != nil {
		return fmt.Errorf("failed to load templates: %v", err)
	}

	db, err := bolt.Open(c.String("db"), 0600, nil)
	if err != nil {
		return fmt.Errorf("failed to open database: %v", err)
	}
	defer db.Close()

	store, err := opensprinkler.NewStore(db)
	if err != nil {
		return fmt.Errorf("failed to create store: %v", err)
	}

	hubStore, err := hub.NewStore(db)
	if err != nil {
		return fmt.Errorf("failed to create hub store: %v", err)
	}

	// Channel to listen for interrupt or terminate signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var client sprinkler.DeviceClient
	var cfg opensprinkler.Config
	if n := c.Int("simulate"); n > 0 {
		cfg, err = simulatorConfig(c)
		if err != nil {
			return err
		}
		runtime := time.Duration(cfg.DefaultRuntime) * time.Second
		client = simulator.NewController(simulator.StationNames(n), runtime, log.WithField("device", "simulator"))
		log.Infof("Simulating a controller with %d stations", n)
	} else {
		cfg, err = controllerConfig(c, store)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("controller not configured, use --host or the setup page: %v", err)
		}
		client = opensprinkler.NewClient(cfg, log.WithField("controller", cfg.Name))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewBuildInfoCollector(),
	)
	metrics := sprinkler.NewMetrics(reg)

	stations, err := sprinkler.Setup(ctx, sprinkler.SetupConfig{
		ControllerName:  cfg.Name,
		Client:          client,
		RefreshInterval: cfg.RefreshInterval(),
		Logger:          log.StandardLogger(),
		Metrics:         metrics,
	})
	if err != nil {
		return err
	}

	host := hub.NewHost(sprinkler.MinTimeBetweenPolls, log.StandardLogger())
	for _, st := range stations {
		host.AddEntities(st)
	}

	serverDesc := hub.ServerDescription{
		Name:                "OpenSprinkler Hub",
		Manufacturer:        "OpenSprinkler",
		ManufacturerVersion: "1.0",
		Location:            cfg.Name,
	}

	setup := opensprinkler.NewSetupPage(store, tmpl, log.WithField("component", "setup"))
	server := hub.NewServer(serverDesc, host, setup.HandleSetup, reg, log.StandardLogger())

	mux := server.AddRoutes()

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", c.Int("port")),
		Handler: mux,
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		log.Debugf("Server started on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not listen on %s: %v\n", srv.Addr, err)
		}
		wg.Done()
	}()

	mqttCfg, err := mqttConfig(c, hubStore)
	if err != nil {
		return err
	}
	if mqttCfg.Enabled {
		mqttClient, err := hub.NewMQTTClient(mqttCfg)
		if err != nil {
			return err
		}
		defer mqttClient.Disconnect(250)

		bridge := hub.NewMQTTBridge(mqttClient, mqttCfg, cfg.Name, host, log.StandardLogger())
		wg.Add(1)
		go func() {
			if err := bridge.Run(ctx); err != nil {
				log.Errorf("MQTT bridge stopped: %v", err)
			}
			wg.Done()
		}()
	}

	wg.Add(1)
	go func() {
		host.Run(ctx)
		wg.Done()
		log.Debug("Poller stopped")
	}()

	// Create discovery responder
	discoveryLogger := log.WithField("component", "discovery")
	dr := hub.NewDiscoveryResponder("0.0.0.0", c.Int("discovery-port"), c.Int("port"), discoveryLogger)

	wg.Add(1)
	go func() {
		if err := dr.Run(ctx); err != nil {
			log.Fatalf("Discovery responder failed: %v", err)
		}
		wg.Done()
		log.Debug("Discovery responder stopped")
	}()

	<-ctx.Done()

	log.Info("Shutting down server...")

	ctx2, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx2); err != nil {
		return fmt.Errorf("server forced to shutdown: %v", err)
	}

	wg.Wait()
	log.Info("Server stopped")
	return nil
}

func flags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:    "debug",
			Aliases: []string{"d"},
			Usage:   "Enable debug logging",
			Value:   false,
			EnvVars: []string{"DEBUG"},
		},
		&cli.IntFlag{
			Name:    "port",
			Aliases: []string{"p"},
			Usage:   "Port to listen on",
			Value:   8090,
			EnvVars: []string{"HUB_PORT"},
		},
		&cli.IntFlag{
			Name:    "discovery-port",
			Usage:   "UDP port of the discovery responder",
			Value:   hub.DefaultDiscoveryPort,
			EnvVars: []string{"HUB_DISCOVERY_PORT"},
		},
		&cli.StringFlag{
			Name:    "db",
			Usage:   "Path of the settings database",
			Value:   "opensprinkler.db",
			EnvVars: []string{"HUB_DB"},
		},
		&cli.StringFlag{
			Name:    "host",
			Usage:   "Controller address, host or host:port",
			EnvVars: []string{"OPENSPRINKLER_HOST"},
		},
		&cli.StringFlag{
			Name:    "name",
			Usage:   "Controller name, prefixes every station name",
			Value:   opensprinkler.DefaultName,
			EnvVars: []string{"OPENSPRINKLER_NAME"},
		},
		&cli.StringFlag{
			Name:    "password",
			Usage:   "Controller password",
			EnvVars: []string{"OPENSPRINKLER_PASSWORD"},
		},
		&cli.IntFlag{
			Name:    "timeout",
			Usage:   "Request timeout in seconds",
			Value:   opensprinkler.DefaultTimeout,
			EnvVars: []string{"OPENSPRINKLER_TIMEOUT"},
		},
		&cli.IntFlag{
			Name:    "default-runtime",
			Usage:   "Station runtime in seconds when none is given",
			Value:   opensprinkler.DefaultStationRuntime,
			EnvVars: []string{"OPENSPRINKLER_DEFAULT_RUNTIME"},
		},
		&cli.IntFlag{
			Name:    "full-refresh",
			Usage:   "Minimum seconds between two status fetches",
			Value:   opensprinkler.DefaultRefresh,
			EnvVars: []string{"OPENSPRINKLER_FULL_REFRESH"},
		},
		&cli.IntFlag{
			Name:    "retries",
			Usage:   "Attempts per request",
			Value:   opensprinkler.DefaultRetries,
			EnvVars: []string{"OPENSPRINKLER_RETRIES"},
		},
		&cli.IntFlag{
			Name:    "simulate",
			Usage:   "Run against a simulated controller with this many stations",
			EnvVars: []string{"OPENSPRINKLER_SIMULATE"},
		},
		&cli.StringFlag{
			Name:    "mqtt-broker",
			Usage:   "Enable the MQTT bridge with this broker, e.g. tcp://localhost:1883",
			EnvVars: []string{"MQTT_BROKER"},
		},
	}
}

func main() {
	app := cli.App{
		Name:   "opensprinkler-hub",
		Usage:  "Expose OpenSprinkler stations as switches",
		Flags:  flags(),
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("Error: %v", err)
	}
}
