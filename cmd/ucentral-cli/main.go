// Package main is ucentral-cli, a broker client for exercising a
// ucentral-mqtt device.
//
// With -C it sends one command to <serial>/cmd and exits once the publish
// completes. With -l it prints every <venue>/stats message as
// "topic - payload" until interrupted. Both may be combined.
package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/blogic/ucentral-mqtt/internal/infrastructure/config"
	"github.com/blogic/ucentral-mqtt/internal/infrastructure/logging"
	"github.com/blogic/ucentral-mqtt/internal/infrastructure/mqtt"
)

// Version information (set via ldflags at build time)
var version = "dev"

const (
	// defaultPort is the plain MQTT port; TLS is only used with -c.
	defaultPort = 1883

	// retryDelay separates reconnect attempts after a connection error.
	retryDelay = 10 * time.Second

	// pollInterval is how often session events are drained.
	pollInterval = 100 * time.Millisecond

	// publishTimeout bounds the wait for a command publish.
	publishTimeout = 30 * time.Second
)

var errUsage = errors.New("-s <server> and -v <venue> are required, together with -l or -S <serial> -C <command>")

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// options is the parsed command line.
type options struct {
	flags   *config.Flags
	command string
	listen  bool
}

// parseFlags parses the getopt-style command line.
func parseFlags(args []string) (*options, error) {
	fs := pflag.NewFlagSet("ucentral-cli", pflag.ContinueOnError)
	fs.SortFlags = false

	opts := &options{flags: config.BindFlags(fs)}
	fs.StringVarP(&opts.command, "command", "C", "", "command sent to <serial>/cmd")
	fs.BoolVarP(&opts.listen, "listen", "l", false, "print <venue>/stats messages until interrupted")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected argument %q", fs.Arg(0))
	}
	if !opts.flags.Changed("server") || !opts.flags.Changed("venue") {
		return nil, errUsage
	}
	if !opts.listen && !opts.sendsCommand() {
		return nil, errUsage
	}
	return opts, nil
}

// sendsCommand reports whether a command is to be published. A command
// needs the target serial.
func (o *options) sendsCommand() bool {
	return o.flags.Changed("command") && o.flags.Changed("serial")
}

// config builds the client configuration. Credentials and TLS are off
// unless given on the command line, and every run gets a fresh client id.
func (o *options) config() *config.Config {
	cfg := config.Default()
	cfg.MQTT.Broker.Port = defaultPort
	cfg.MQTT.Broker.ClientID = "cli-" + uuid.NewString()
	cfg.MQTT.Auth = config.MQTTAuthConfig{}
	cfg.MQTT.TLS = config.MQTTTLSConfig{}

	for _, override := range o.flags.Overrides() {
		override(cfg)
	}
	return cfg
}

// commandPayload is the wire form of a command: its text and a NUL.
func commandPayload(cmd string) []byte {
	return append([]byte(cmd), 0)
}

// formatMessage renders an inbound message. The payload ends at its first
// NUL, as published payloads are NUL-terminated.
func formatMessage(topic string, payload []byte) string {
	if i := bytes.IndexByte(payload, 0); i >= 0 {
		payload = payload[:i]
	}
	return fmt.Sprintf("%s - %s\n", topic, payload)
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	opts, err := parseFlags(args)
	if errors.Is(err, pflag.ErrHelp) {
		return nil
	}
	if err != nil {
		return err
	}

	cfg := opts.config()
	cfg.Logging.Level = cfg.LogLevel()
	log := logging.New(cfg.Logging, version)
	mqtt.InstallLogger(log, cfg.Debug)

	session, err := mqtt.NewSession(cfg.MQTT, cfg.ClientID())
	if err != nil {
		return fmt.Errorf("creating MQTT session: %w", err)
	}
	session.SetLogger(log.With("component", "mqtt"))
	log.Info("using client id", "client_id", cfg.ClientID(), "broker", session.Broker())

	c := &client{
		session: session,
		topics:  mqtt.NewTopics(cfg.Device.Venue, cfg.Device.Serial),
		listen:  opts.listen,
		out:     stdout,
		log:     log,
		poll:    pollInterval,
		retry:   retryDelay,
	}
	if opts.sendsCommand() {
		c.command = commandPayload(opts.command)
	}
	return c.run(ctx)
}

// brokerSession is the part of *mqtt.Session the client drives.
type brokerSession interface {
	Connect() error
	Subscribe(topic string) error
	PublishWait(ctx context.Context, topic string, payload []byte) error
	Service() []mqtt.Event
	Disconnect()
}

// client runs one CLI session.
type client struct {
	session brokerSession
	topics  mqtt.Topics
	listen  bool
	out     io.Writer
	log     *logging.Logger
	poll    time.Duration
	retry   time.Duration

	// command is the pending payload; nil once it has been published.
	command []byte
}

// run connects and services events until there is nothing left to do or
// ctx is done.
func (c *client) run(ctx context.Context) error {
	defer c.session.Disconnect()

	if err := c.session.Connect(); err != nil {
		return fmt.Errorf("connecting: %w", err)
	}

	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()

	var reconnect <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case <-reconnect:
			reconnect = nil
			c.log.Info("reconnecting")
			if err := c.session.Connect(); err != nil {
				c.log.Warn("reconnect failed", "error", err)
				reconnect = time.After(c.retry)
			}

		case <-ticker.C:
			for _, ev := range c.session.Service() {
				done, retry, err := c.handle(ctx, ev)
				if err != nil || done {
					return err
				}
				if retry && reconnect == nil {
					reconnect = time.After(c.retry)
				}
			}
		}
	}
}

// handle processes one event. done means the client has finished; retry
// asks for a reconnect after the retry delay.
func (c *client) handle(ctx context.Context, ev mqtt.Event) (done, retry bool, err error) {
	switch ev.Type {
	case mqtt.EventConnected:
		c.log.Info("connected")
		if c.listen {
			if err := c.session.Subscribe(c.topics.Stats); err != nil {
				c.log.Warn("subscribe failed", "topic", c.topics.Stats, "error", err)
			}
		}
		if c.command == nil {
			return false, false, nil
		}

		c.log.Info("issuing command", "topic", c.topics.Command)
		pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
		defer cancel()
		if err := c.session.PublishWait(pubCtx, c.topics.Command, c.command); err != nil {
			return false, false, fmt.Errorf("publishing command: %w", err)
		}
		c.log.Info("command was published")
		c.command = nil
		return !c.listen, false, nil

	case mqtt.EventConnectFailed, mqtt.EventDisconnected:
		c.log.Warn("connection error", "event", ev.Type.String(), "error", ev.Err, "retry_in", c.retry)
		return false, true, nil

	case mqtt.EventMessage:
		if _, err := io.WriteString(c.out, formatMessage(ev.Topic, ev.Payload)); err != nil {
			return false, false, fmt.Errorf("writing message: %w", err)
		}
	}
	return false, false, nil
}
