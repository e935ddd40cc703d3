// Package config provides functionality for managing configuration options
// for the sync client using command-line flags, a JSON config file and
// environment variables.
package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"
)

// Supported user store kinds.
const (
	StoreMemory   = "memory"
	StoreFile     = "file"
	StorePostgres = "postgres"
	StoreKeyring  = "keyring"
)

// Options holds the configuration values for the sync client.
type Options struct {
	// ServerURL is the base URL of the object server.
	ServerURL string `json:"server_url"`

	// UserStore selects the identity store: memory, file, postgres or keyring.
	UserStore string `json:"user_store"`

	// StorePath is the JSON file used by the file store.
	StorePath string `json:"store_path"`

	// DatabaseDSN holds the connection string for the postgres store.
	DatabaseDSN string `json:"database_dsn"`

	// KeyringService names the OS keyring service for the keyring store.
	KeyringService string `json:"keyring_service"`

	// ControlAddress is the ip:port of the local control API. Empty disables it.
	ControlAddress string `json:"control_address"`

	// SyncInterval is the tick between background sync rounds.
	SyncInterval time.Duration `json:"-"`

	// LogLevel is the zap level name.
	LogLevel string `json:"log_level"`

	// CertFile, KeyFile and CAFile configure mutual TLS towards the server.
	CertFile string `json:"cert_file"`
	KeyFile  string `json:"key_file"`
	CAFile   string `json:"ca_file"`

	// Config is the path to the config file.
	Config string `json:"-"`
}

// fileOptions mirrors Options for the config file, where the interval is a
// duration string such as "30s".
type fileOptions struct {
	*Options
	SyncInterval string `json:"sync_interval"`
}

// Parse parses args (without the program name), then the config file, then
// environment variables, later sources overriding earlier ones.
func Parse(args []string) (*Options, error) {
	options := &Options{}

	fs := flag.NewFlagSet("syncclient", flag.ContinueOnError)
	fs.StringVar(&options.ServerURL, "s", "https://localhost:8080", "object server base URL")
	fs.StringVar(&options.UserStore, "store", StoreMemory, "user store: memory, file, postgres or keyring")
	fs.StringVar(&options.StorePath, "store-path", "users.json", "path to the file user store")
	fs.StringVar(&options.DatabaseDSN, "d", "", "db address for the postgres user store")
	fs.StringVar(&options.KeyringService, "keyring-service", "syncmanager", "OS keyring service name")
	fs.StringVar(&options.ControlAddress, "a", "localhost:8090", "run control API on ip:port, empty to disable")
	fs.DurationVar(&options.SyncInterval, "i", 10*time.Second, "background sync interval")
	fs.StringVar(&options.LogLevel, "l", "info", "log level")
	fs.StringVar(&options.CertFile, "cert", "", "client certificate file")
	fs.StringVar(&options.KeyFile, "key", "", "client key file")
	fs.StringVar(&options.CAFile, "ca", "", "CA certificate file")
	fs.StringVar(&options.Config, "config", "config.json", "path to config file")
	fs.StringVar(&options.Config, "c", "config.json", "path to config file (shorthand)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if configPath := os.Getenv("CONFIG"); configPath != "" {
		options.Config = configPath
	}

	if options.Config != "" {
		if _, err := os.Stat(options.Config); err == nil {
			data, err := os.ReadFile(options.Config)
			if err != nil {
				return nil, fmt.Errorf("error while reading config file: %w", err)
			}
			fo := fileOptions{Options: options}
			if err := json.Unmarshal(data, &fo); err != nil {
				return nil, fmt.Errorf("error while parsing config file: %w", err)
			}
			if fo.SyncInterval != "" {
				d, err := time.ParseDuration(fo.SyncInterval)
				if err != nil {
					return nil, fmt.Errorf("error while parsing sync_interval: %w", err)
				}
				options.SyncInterval = d
			}
		}
	}

	if serverURL := os.Getenv("SERVER_URL"); serverURL != "" {
		options.ServerURL = serverURL
	}
	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		options.DatabaseDSN = dsn
	}
	if store := os.Getenv("USER_STORE"); store != "" {
		options.UserStore = store
	}
	if addr, ok := os.LookupEnv("CONTROL_ADDRESS"); ok {
		options.ControlAddress = addr
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		options.LogLevel = level
	}

	if err := options.validate(); err != nil {
		return nil, err
	}
	return options, nil
}

func (o *Options) validate() error {
	switch o.UserStore {
	case StoreMemory, StoreFile, StoreKeyring:
	case StorePostgres:
		if o.DatabaseDSN == "" {
			return errors.New("postgres user store requires a database DSN")
		}
	default:
		return fmt.Errorf("unknown user store %q", o.UserStore)
	}
	if o.SyncInterval <= 0 {
		return fmt.Errorf("sync interval must be positive, got %s", o.SyncInterval)
	}
	return nil
}
