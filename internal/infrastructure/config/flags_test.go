package config

import (
	"testing"

	"github.com/spf13/pflag"
)

func parseTestFlags(t *testing.T, args ...string) *Flags {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	f := BindFlags(fs)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("Parse(%v) error = %v", args, err)
	}
	return f
}

func TestFlags_OnlyChangedOverride(t *testing.T) {
	f := parseTestFlags(t, "-s", "broker.example.com", "-P", "1884")

	if got := len(f.Overrides()); got != 2 {
		t.Fatalf("Overrides() = %d, want 2", got)
	}
	if !f.Changed("server") || f.Changed("venue") {
		t.Errorf("Changed(server, venue) = %v, %v, want true, false", f.Changed("server"), f.Changed("venue"))
	}

	cfg := Default()
	for _, o := range f.Overrides() {
		o(cfg)
	}
	if cfg.MQTT.Broker.Host != "broker.example.com" || cfg.MQTT.Broker.Port != 1884 {
		t.Errorf("Broker = %+v, want broker.example.com:1884", cfg.MQTT.Broker)
	}
	if cfg.Device.Venue != "uSync" {
		t.Errorf("Venue = %q, want default uSync", cfg.Device.Venue)
	}
}

func TestFlags_Cert(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		enabled bool
		caFile  string
	}{
		{"set", []string{"-c", "/etc/ca.pem"}, true, "/etc/ca.pem"},
		{"empty", []string{"-c", ""}, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			for _, o := range parseTestFlags(t, tt.args...).Overrides() {
				o(cfg)
			}
			if cfg.MQTT.TLS.Enabled != tt.enabled || cfg.MQTT.TLS.CAFile != tt.caFile {
				t.Errorf("TLS = %+v, want enabled=%v ca=%q", cfg.MQTT.TLS, tt.enabled, tt.caFile)
			}
		})
	}
}
