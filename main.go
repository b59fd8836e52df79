package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var version = "dev"

// flagKeys maps command line flags onto configuration keys.
var flagKeys = map[string]string{
	"address":   "server.listen.address",
	"port":      "server.listen.port",
	"pool-size": "server.worker_pool.max_workers",
	"log-level": "server.logging.level",
}

type cmdOptions struct {
	configFile  string
	envFile     string
	printConfig bool
	showVersion bool
}

func newFlagSet(opts *cmdOptions) *pflag.FlagSet {
	flags := pflag.NewFlagSet("moviebridge", pflag.ContinueOnError)

	flags.StringVarP(&opts.configFile, "config", "c", "", "path to the configuration file")
	flags.StringVar(&opts.envFile, "env-file", "", "load environment variables from this file")
	flags.BoolVar(&opts.printConfig, "print-config", false, "print the effective configuration and exit")
	flags.BoolVarP(&opts.showVersion, "version", "v", false, "print the version and exit")

	flags.String("address", defaultAddress, "address to listen on")
	flags.Int("port", defaultPort, "port to listen on")
	flags.Int("pool-size", defaultMaxWorkers, "number of worker goroutines")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")

	return flags
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range flagKeys {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			return fmt.Errorf("could not bind flag %q: %w", name, err)
		}
	}

	return nil
}

// loadEnvFile loads path into the environment. Without a path an optional .env in the working directory is used.
func loadEnvFile(path string) error {
	if path != "" {
		return godotenv.Load(path)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	return nil
}

// watchConfig reloads the log level whenever the configuration file changes.
func watchConfig(v *viper.Viper, levelVar *slog.LevelVar, logger *slog.Logger) {
	if v.ConfigFileUsed() == "" {
		return
	}

	v.OnConfigChange(func(event fsnotify.Event) {
		if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
			return
		}

		level := v.GetString("server.logging.level")
		levelVar.Set(parseLevel(level))

		logger.Info("Configuration reloaded", slog.String("file", event.Name), slog.String("log_level", level))
	})

	v.WatchConfig()
}

func main() {
	opts := &cmdOptions{}
	flags := newFlagSet(opts)

	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}

		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if opts.showVersion {
		fmt.Println(version)

		return
	}

	if err := loadEnvFile(opts.envFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error loading environment file: %v\n", err)
		os.Exit(1)
	}

	v := viper.New()

	if err := bindFlags(v, flags); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	levelVar := new(slog.LevelVar)

	cfg, err := NewConfigFile(v, opts.configFile)
	if err != nil {
		NewLogger(nil, levelVar, os.Stderr).Error("Error loading config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if opts.printConfig {
		out, err := yaml.Marshal(cfg.Redacted())
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		fmt.Print(string(out))

		return
	}

	logger := NewLogger(cfg, levelVar, os.Stdout)

	watchConfig(v, levelVar, logger)

	NewApp(cfg, logger).Run()
}
