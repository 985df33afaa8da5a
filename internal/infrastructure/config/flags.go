package config

import (
	"github.com/spf13/pflag"
)

// Flags holds the getopt-style broker and device options shared by
// ucentral-mqtt and ucentral-cli.
type Flags struct {
	fs *pflag.FlagSet

	serial     string
	user       string
	pass       string
	server     string
	port       int
	debug      bool
	cert       string
	selfSigned bool
	venue      string
}

// BindFlags registers -S -u -p -s -P -d -c -i -v on fs.
func BindFlags(fs *pflag.FlagSet) *Flags {
	f := &Flags{fs: fs}
	fs.StringVarP(&f.serial, "serial", "S", "", "device serial")
	fs.StringVarP(&f.user, "user", "u", "", "broker username")
	fs.StringVarP(&f.pass, "pass", "p", "", "broker password")
	fs.StringVarP(&f.server, "server", "s", "", "broker host")
	fs.IntVarP(&f.port, "port", "P", 0, "broker port")
	fs.BoolVarP(&f.debug, "debug", "d", false, "debug logging")
	fs.StringVarP(&f.cert, "cert", "c", "", "broker CA certificate")
	fs.BoolVarP(&f.selfSigned, "self-signed", "i", false, "accept a self-signed broker certificate")
	fs.StringVarP(&f.venue, "venue", "v", "", "venue name")
	return f
}

// Changed reports whether the named option was given.
func (f *Flags) Changed(name string) bool {
	return f.fs.Changed(name)
}

// Overrides returns one Override per option that was given, so unset
// options never mask file or environment values. Call after Parse.
func (f *Flags) Overrides() []Override {
	var out []Override
	set := func(name string, o Override) {
		if f.fs.Changed(name) {
			out = append(out, o)
		}
	}
	set("serial", func(c *Config) { c.Device.Serial = f.serial })
	set("user", func(c *Config) { c.MQTT.Auth.Username = f.user })
	set("pass", func(c *Config) { c.MQTT.Auth.Password = f.pass })
	set("server", func(c *Config) { c.MQTT.Broker.Host = f.server })
	set("port", func(c *Config) { c.MQTT.Broker.Port = f.port })
	set("debug", func(c *Config) { c.Debug = f.debug })
	set("cert", func(c *Config) {
		c.MQTT.TLS.CAFile = f.cert
		c.MQTT.TLS.Enabled = f.cert != ""
	})
	set("self-signed", func(c *Config) { c.MQTT.TLS.SelfSigned = f.selfSigned })
	set("venue", func(c *Config) { c.Device.Venue = f.venue })
	return out
}
