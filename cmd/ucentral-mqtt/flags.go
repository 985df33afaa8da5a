package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/blogic/ucentral-mqtt/internal/infrastructure/config"
)

// options is the parsed command line.
type options struct {
	configPath  string
	envFile     string
	migrateDown bool
	overrides   []config.Override
}

// parseFlags parses the getopt-style command line.
func parseFlags(args []string) (*options, error) {
	fs := pflag.NewFlagSet("ucentral-mqtt", pflag.ContinueOnError)
	fs.SortFlags = false

	opts := &options{}
	fs.StringVar(&opts.configPath, "config", os.Getenv("UCENTRAL_CONFIG"), "YAML configuration file")
	fs.StringVar(&opts.envFile, "env-file", "", "dotenv file loaded before UCENTRAL_* variables")
	fs.BoolVar(&opts.migrateDown, "migrate-down", false, "roll back the latest audit log migration and exit")
	flags := config.BindFlags(fs)

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected argument %q", fs.Arg(0))
	}

	opts.overrides = flags.Overrides()
	return opts, nil
}
