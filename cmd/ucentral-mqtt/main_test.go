package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/blogic/ucentral-mqtt/internal/connection"
	"github.com/blogic/ucentral-mqtt/internal/eventloop"
	"github.com/blogic/ucentral-mqtt/internal/infrastructure/config"
	"github.com/blogic/ucentral-mqtt/internal/infrastructure/database"
	"github.com/blogic/ucentral-mqtt/internal/infrastructure/logging"
	"github.com/blogic/ucentral-mqtt/internal/infrastructure/mqtt"
	"github.com/blogic/ucentral-mqtt/internal/metrics"
	"github.com/blogic/ucentral-mqtt/migrations"
)

func applyFlags(t *testing.T, args ...string) *config.Config {
	t.Helper()

	opts, err := parseFlags(args)
	if err != nil {
		t.Fatalf("parseFlags(%v) error = %v", args, err)
	}
	cfg := config.Default()
	for _, o := range opts.overrides {
		o(cfg)
	}
	return cfg
}

func TestParseFlags_NoArgs(t *testing.T) {
	opts, err := parseFlags(nil)
	if err != nil {
		t.Fatalf("parseFlags() error = %v", err)
	}
	if len(opts.overrides) != 0 {
		t.Errorf("overrides = %d, want 0", len(opts.overrides))
	}
}

func TestParseFlags_ShortOptions(t *testing.T) {
	cfg := applyFlags(t,
		"-S", "aabbccddeeff",
		"-u", "admin",
		"-p", "secret",
		"-s", "broker.example.com",
		"-P", "1884",
		"-d",
		"-c", "/etc/ca.pem",
		"-i",
		"-v", "hall",
	)

	if cfg.Device.Serial != "aabbccddeeff" {
		t.Errorf("Serial = %q, want aabbccddeeff", cfg.Device.Serial)
	}
	if cfg.MQTT.Auth.Username != "admin" || cfg.MQTT.Auth.Password != "secret" {
		t.Errorf("Auth = %+v, want admin/secret", cfg.MQTT.Auth)
	}
	if cfg.MQTT.Broker.Host != "broker.example.com" || cfg.MQTT.Broker.Port != 1884 {
		t.Errorf("Broker = %+v, want broker.example.com:1884", cfg.MQTT.Broker)
	}
	if !cfg.Debug {
		t.Error("Debug = false, want true")
	}
	if cfg.MQTT.TLS.CAFile != "/etc/ca.pem" || !cfg.MQTT.TLS.Enabled || !cfg.MQTT.TLS.SelfSigned {
		t.Errorf("TLS = %+v", cfg.MQTT.TLS)
	}
	if cfg.Device.Venue != "hall" {
		t.Errorf("Venue = %q, want hall", cfg.Device.Venue)
	}
}

func TestParseFlags_EmptyCertDisablesTLS(t *testing.T) {
	cfg := applyFlags(t, "-c", "")
	if cfg.MQTT.TLS.Enabled {
		t.Error("TLS.Enabled = true, want false")
	}
}

func TestParseFlags_MigrateDown(t *testing.T) {
	opts, err := parseFlags([]string{"--migrate-down", "-S", "aabbccddeeff"})
	if err != nil {
		t.Fatalf("parseFlags() error = %v", err)
	}
	if !opts.migrateDown {
		t.Error("migrateDown = false, want true")
	}
	if len(opts.overrides) != 1 {
		t.Errorf("overrides = %d, want 1", len(opts.overrides))
	}
}

func TestParseFlags_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"unknown flag", []string{"-x"}},
		{"bad port", []string{"-P", "abc"}},
		{"positional", []string{"extra"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseFlags(tt.args); err == nil {
				t.Errorf("parseFlags(%v) error = nil, want error", tt.args)
			}
		})
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx, []string{"--config", "/nonexistent/path/config.yaml"})
	if err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
	if !strings.Contains(err.Error(), "loading config") {
		t.Errorf("run() error = %v, want loading config", err)
	}
}

func TestRun_Help(t *testing.T) {
	if err := run(context.Background(), []string{"--help"}); err != nil {
		t.Errorf("run(--help) error = %v, want nil", err)
	}
}

// TestRun_BusUnreachable verifies startup fails when the local bus cannot be
// reached, after the audit log has been created.
func TestRun_BusUnreachable(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "audit.db")
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
device:
  serial: "001122334455"
  venue: test

mqtt:
  broker:
    host: "127.0.0.1"
    port: 1883
  tls:
    enabled: false

bus:
  url: "nats://127.0.0.1:1"

database:
  path: "` + dbPath + `"

api:
  listen: "127.0.0.1:0"

logging:
  level: error
`
	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := run(ctx, []string{"--config", configPath})
	if err == nil {
		t.Fatal("run() should fail when the bus is unreachable")
	}
	if !strings.Contains(err.Error(), "connecting to bus") {
		t.Errorf("run() error = %v, want connecting to bus", err)
	}
	if _, err := os.Stat(dbPath); err != nil {
		t.Errorf("audit database not created: %v", err)
	}
}

func writeTestConfig(t *testing.T, dbPath string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
mqtt:
  tls:
    enabled: false
database:
  path: "` + dbPath + `"
logging:
  level: error
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func auditTableExists(t *testing.T, dbPath string) bool {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{Path: dbPath, BusyTimeout: 5})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close() //nolint:errcheck // test cleanup

	var count int
	err = db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='audit_logs'",
	).Scan(&count)
	if err != nil {
		t.Fatalf("querying sqlite_master: %v", err)
	}
	return count == 1
}

func TestRun_MigrateDown(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "audit.db")
	ctx := context.Background()

	db, err := database.Open(config.DatabaseConfig{Path: dbPath, BusyTimeout: 5})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	db.Close() //nolint:errcheck // reopened by run
	if !auditTableExists(t, dbPath) {
		t.Fatal("audit_logs missing after Migrate")
	}

	if err := run(ctx, []string{"--config", writeTestConfig(t, dbPath), "--migrate-down"}); err != nil {
		t.Fatalf("run(--migrate-down) error = %v", err)
	}
	if auditTableExists(t, dbPath) {
		t.Error("audit_logs still present after --migrate-down")
	}

	// A second rollback has nothing to do.
	if err := run(ctx, []string{"--config", writeTestConfig(t, dbPath), "--migrate-down"}); err != nil {
		t.Errorf("second run(--migrate-down) error = %v", err)
	}
}

func TestRun_MigrateDownWithoutDatabase(t *testing.T) {
	err := run(context.Background(), []string{"--config", writeTestConfig(t, ""), "--migrate-down"})
	if err == nil || !strings.Contains(err.Error(), "database.path") {
		t.Errorf("run(--migrate-down) error = %v, want database.path required", err)
	}
}

func newTestDaemon(t *testing.T) *daemon {
	t.Helper()

	cfg := config.Default()
	cfg.MQTT.TLS.Enabled = false

	session, err := mqtt.NewSession(cfg.MQTT, cfg.ClientID())
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}

	d := &daemon{
		cfg:      cfg,
		topics:   mqtt.NewTopics(cfg.Device.Venue, cfg.Device.Serial),
		loop:     eventloop.New(),
		session:  session,
		recorder: metrics.NewRecorder(nil),
		log:      logging.Default(),
	}
	d.wire()
	return d
}

func TestDaemon_State(t *testing.T) {
	d := newTestDaemon(t)

	st := d.State()
	if st.Connected {
		t.Error("Connected = true, want false")
	}
	if st.Name != string(connection.StateDisconnected) {
		t.Errorf("Name = %q, want %q", st.Name, connection.StateDisconnected)
	}
	if st.ReconnectDelay != d.cfg.MQTT.Reconnect.BaseDelay {
		t.Errorf("ReconnectDelay = %v, want %v", st.ReconnectDelay, d.cfg.MQTT.Reconnect.BaseDelay)
	}
	if st.Tasks.Queued != 0 || st.Tasks.Running != 0 {
		t.Errorf("Tasks = %+v, want empty queue", st.Tasks)
	}
	if st.TopicStats != "uSync/stats" || st.TopicVenue != "uSync/venue" || st.TopicCmd != "001122334455/cmd" {
		t.Errorf("topics = %q %q %q", st.TopicStats, st.TopicVenue, st.TopicCmd)
	}
}

func TestDaemon_PublishVenueWhileDisconnected(t *testing.T) {
	d := newTestDaemon(t)

	err := d.PublishVenue(json.RawMessage(`{"hello":"world"}`))
	if !errors.Is(err, connection.ErrNotConnected) {
		t.Errorf("PublishVenue() error = %v, want ErrNotConnected", err)
	}
}
