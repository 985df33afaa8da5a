// Package main is the entry point for the ucentral-mqtt bridge daemon.
//
// The daemon keeps one MQTT session to the uCentral broker alive, publishes
// periodic device stats, runs remote commands through a helper script and
// exposes its state on the local NATS bus.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"

	"github.com/blogic/ucentral-mqtt/internal/api"
	"github.com/blogic/ucentral-mqtt/internal/audit"
	"github.com/blogic/ucentral-mqtt/internal/connection"
	"github.com/blogic/ucentral-mqtt/internal/eventloop"
	"github.com/blogic/ucentral-mqtt/internal/infrastructure/bus"
	"github.com/blogic/ucentral-mqtt/internal/infrastructure/config"
	"github.com/blogic/ucentral-mqtt/internal/infrastructure/database"
	"github.com/blogic/ucentral-mqtt/internal/infrastructure/influxdb"
	"github.com/blogic/ucentral-mqtt/internal/infrastructure/logging"
	"github.com/blogic/ucentral-mqtt/internal/infrastructure/mqtt"
	"github.com/blogic/ucentral-mqtt/internal/metrics"
	"github.com/blogic/ucentral-mqtt/internal/process"
	"github.com/blogic/ucentral-mqtt/internal/router"
	"github.com/blogic/ucentral-mqtt/internal/tasks"
	"github.com/blogic/ucentral-mqtt/migrations"
)

// Version information (set via ldflags at build time)
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// shutdownTimeout bounds helper termination after the loop stops.
const shutdownTimeout = 10 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the main application logic, separated for testability.
// It returns an error instead of calling os.Exit.
func run(ctx context.Context, args []string) error {
	opts, err := parseFlags(args)
	if errors.Is(err, pflag.ErrHelp) {
		return nil
	}
	if err != nil {
		return err
	}

	log := logging.Default()
	log.Info("starting ucentral-mqtt",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(opts.configPath, opts.envFile, opts.overrides...)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	cfg.Logging.Level = cfg.LogLevel()
	log = logging.New(cfg.Logging, version)
	mqtt.InstallLogger(log, cfg.Debug)

	topics := mqtt.NewTopics(cfg.Device.Venue, cfg.Device.Serial)
	log.Info("configuration loaded",
		"serial", cfg.Device.Serial,
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"topic_stats", topics.Stats,
		"topic_venue", topics.Venue,
		"topic_cmd", topics.Command,
	)

	if opts.migrateDown {
		return migrateDown(ctx, cfg.Database, log)
	}

	// Command audit log (optional)
	var (
		journal   *audit.Journal
		auditRepo audit.Repository
		auditDB   api.HealthChecker
	)
	if cfg.Database.Path != "" {
		db, err := database.Open(cfg.Database)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer func() {
			log.Info("closing database")
			if err := db.Close(); err != nil {
				log.Error("error closing database", "error", err)
			}
		}()

		if err := db.Migrate(ctx, migrations.FS); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		log.Info("audit log ready", "path", db.Path())

		repo := audit.NewSQLiteRepository(db.DB)
		auditRepo = repo
		auditDB = db
		journal = audit.NewJournal(repo)
		journal.SetLogger(log.With("component", "audit"))
		journal.Start()
		defer journal.Close()
	} else {
		log.Info("audit log disabled")
	}

	// Stats sink (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		defer func() {
			log.Info("closing InfluxDB connection")
			influxClient.Close() //nolint:errcheck // always nil
		}()
		log.Info("connected to InfluxDB", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	recorder := metrics.NewRecorder(prometheus.NewRegistry())

	loop := eventloop.New()
	loop.SetLogger(log.With("component", "eventloop"))

	session, err := mqtt.NewSession(cfg.MQTT, cfg.ClientID())
	if err != nil {
		return fmt.Errorf("creating MQTT session: %w", err)
	}
	session.SetLogger(log.With("component", "mqtt"))

	d := &daemon{
		cfg:      cfg,
		topics:   topics,
		loop:     loop,
		session:  session,
		recorder: recorder,
		journal:  journal,
		log:      log,
	}
	if influxClient != nil {
		d.sink = influxdb.NewStatsSink(influxClient, cfg.Device.Serial, cfg.Device.Venue)
	}
	d.wire()

	busServer := bus.NewServer(cfg.Bus, loop, d)
	busServer.SetLogger(log.With("component", "bus"))
	if err := busServer.Connect(); err != nil {
		return fmt.Errorf("connecting to bus: %w", err)
	}
	d.router.SetNotifier(busServer)
	log.Info("registered on bus", "url", cfg.Bus.URL, "object", cfg.Bus.Object)

	// Local HTTP server (optional)
	if cfg.API.Listen != "" {
		apiServer, err := api.New(api.Deps{
			Config:  cfg.API,
			Metrics: recorder.Handler(),
			Loop:    loop,
			State:   d,
			Audit:   auditRepo,
			AuditDB: auditDB,
			Logger:  log.With("component", "api"),
			Version: version,
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if err := apiServer.Start(); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			if err := apiServer.Close(); err != nil {
				log.Error("error closing API server", "error", err)
			}
		}()
	} else {
		log.Info("API server disabled")
	}

	loop.Post(func() {
		if err := d.machine.Start(); err != nil {
			log.Error("failed to start connection", "error", err)
		}
	})

	log.Info("initialisation complete, waiting for shutdown signal")

	if err := loop.Run(ctx); err != nil {
		return fmt.Errorf("running event loop: %w", err)
	}

	log.Info("shutdown signal received, cleaning up")

	if err := busServer.Close(); err != nil {
		log.Warn("error closing bus connection", "error", err)
	}

	// The loop has stopped; nothing else touches the machine or the queue.
	d.machine.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	d.queue.Shutdown(shutdownCtx)

	log.Info("ucentral-mqtt stopped")
	return nil
}

// migrateDown rolls back the latest audit log migration.
func migrateDown(ctx context.Context, cfg config.DatabaseConfig, log *logging.Logger) error {
	if cfg.Path == "" {
		return errors.New("--migrate-down requires database.path")
	}

	db, err := database.Open(cfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close() //nolint:errcheck // best effort on exit

	version, err := db.MigrateDown(ctx, migrations.FS)
	if err != nil {
		return fmt.Errorf("rolling back migration: %w", err)
	}
	if version == "" {
		log.Info("no migrations to roll back", "path", db.Path())
	} else {
		log.Info("migration rolled back", "version", version, "path", db.Path())
	}
	return nil
}

// daemon holds the components that live on the event loop.
type daemon struct {
	cfg      *config.Config
	topics   mqtt.Topics
	loop     *eventloop.Loop
	session  *mqtt.Session
	recorder *metrics.Recorder
	journal  *audit.Journal
	sink     *influxdb.StatsSink
	log      *logging.Logger

	machine *connection.Machine
	queue   *process.Queue
	router  *router.Router
	stats   *tasks.Stats
	command *tasks.Command
}

// wire builds the loop components and connects them to each other.
func (d *daemon) wire() {
	cfg := d.cfg

	d.machine = connection.New(d.loop, d.session, connection.Config{
		BaseDelay:       cfg.MQTT.Reconnect.BaseDelay,
		ConnectTimeout:  cfg.MQTT.ConnectTimeout,
		ServiceInterval: cfg.MQTT.ServiceInterval,
		StatsInterval:   cfg.Stats.Interval,
		Subscriptions:   d.topics.Subscriptions(),
	})
	d.machine.SetLogger(d.log.With("component", "connection"))
	d.machine.SetObserver(d.recorder)

	d.queue = process.NewQueue(d.loop, process.Config{
		MaxRunning: process.DefaultMaxRunning,
		KillGrace:  cfg.Tasks.KillGrace,
	})
	d.queue.SetLogger(d.log.With("component", "queue"))
	d.queue.SetObserver(d.recorder.TaskCompleted)

	commandLog := d.log.With("component", "command")
	d.command = tasks.NewCommand(d.queue, tasks.CommandConfig{
		Dir:     cfg.Command.Dir,
		Timeout: cfg.Command.Timeout,
		Launch:  tasks.ExecCommand(cfg.Command.Program, commandLog),
	})
	d.command.SetLogger(commandLog)

	d.router = router.New(cfg.Device.Serial, d.topics, d.command, d.machine)
	d.router.SetLogger(d.log.With("component", "router"))
	d.router.SetObserver(d.recorder)

	if d.journal != nil {
		d.router.SetAuditor(d.journal)
		d.command.SetAuditor(d.journal)
	}

	statsLog := d.log.With("component", "stats")
	d.stats = tasks.NewStats(d.queue, d.router, tasks.StatsConfig{
		Serial:  cfg.Device.Serial,
		Topic:   d.topics.Stats,
		File:    cfg.Stats.File,
		Timeout: cfg.Stats.Timeout,
		Launch: process.Exec(process.ExecConfig{
			Name:   "stats",
			Binary: cfg.Stats.Program,
			Logger: statsLog,
		}),
	})
	d.stats.SetLogger(statsLog)
	if d.sink != nil {
		d.stats.SetSink(d.sink)
	}

	d.machine.SetMessageHandler(d.router.Handle)
	d.machine.SetStatsTrigger(d.stats.Trigger)
}

// State implements bus.Backend.
func (d *daemon) State() bus.State {
	st := d.machine.Status()
	return bus.State{
		Connected:      st.Connected,
		Since:          st.Since,
		Name:           string(st.State),
		ReconnectDelay: st.ReconnectDelay,
		Tasks:          d.queue.Stats(),
		TopicStats:     d.topics.Stats,
		TopicVenue:     d.topics.Venue,
		TopicCmd:       d.topics.Command,
	}
}

// PublishVenue implements bus.Backend.
func (d *daemon) PublishVenue(msg json.RawMessage) error {
	return d.router.PublishVenue(msg)
}
