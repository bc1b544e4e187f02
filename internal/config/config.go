package config

import (
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// NumReplicas is fixed: the cluster is a static chain of three replicas and
// the failover order of every client depends on that.
const NumReplicas = 3

// Settings holds the deployment knobs shared by both binaries. Identity
// (replica id, the IP list) always comes from positional arguments; the
// environment only tunes behavior around it. Priority: env vars > .env file
// > defaults.
type Settings struct {
	Port       int           `env:"CHAT_PORT" envDefault:"50051"`
	DataDir    string        `env:"CHAT_DATA_DIR" envDefault:"."`
	AdminAddr  string        `env:"CHAT_ADMIN_ADDR"` // empty disables the admin listener
	RPCTimeout time.Duration `env:"CHAT_RPC_TIMEOUT" envDefault:"1s"`
	MaxConns   int           `env:"CHAT_MAX_CONNS" envDefault:"10"`
	LogLevel   string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat  string        `env:"LOG_FORMAT" envDefault:"json"`
}

// Load reads Settings from an optional .env file and the environment.
func Load() (*Settings, error) {
	// .env is a development convenience; absence is normal in production
	_ = godotenv.Load()

	cfg := &Settings{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Validate checks ranges and enums.
func (c *Settings) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("CHAT_PORT must be 1-65535, got %d", c.Port)
	}
	if c.RPCTimeout <= 0 {
		return fmt.Errorf("CHAT_RPC_TIMEOUT must be positive, got %s", c.RPCTimeout)
	}
	if c.MaxConns < 1 {
		return fmt.Errorf("CHAT_MAX_CONNS must be > 0, got %d", c.MaxConns)
	}
	switch c.LogLevel {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of: trace, debug, info, warn, error (got: %s)", c.LogLevel)
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("LOG_FORMAT must be one of: json, console (got: %s)", c.LogFormat)
	}
	return nil
}

// Addrs joins every replica IP with the configured port, index-aligned with
// replica ids.
func (c *Settings) Addrs(ips []string) []string {
	addrs := make([]string, len(ips))
	for i, ip := range ips {
		addrs[i] = net.JoinHostPort(ip, strconv.Itoa(c.Port))
	}
	return addrs
}

// DBPath is where replica id keeps its snapshot.
func (c *Settings) DBPath(id int) string {
	return filepath.Join(c.DataDir, fmt.Sprintf("db%d.gob", id))
}

// ParseReplicaArgs parses the server's positional arguments:
// <id> <ip0> <ip1> <ip2>.
func ParseReplicaArgs(args []string) (int, []string, error) {
	if len(args) != 1+NumReplicas {
		return 0, nil, fmt.Errorf("expected %d arguments <id> <ip0> <ip1> <ip2>, got %d", 1+NumReplicas, len(args))
	}
	id, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, nil, fmt.Errorf("replica id %q is not a number", args[0])
	}
	if id < 0 || id >= NumReplicas {
		return 0, nil, fmt.Errorf("replica id must be 0-%d, got %d", NumReplicas-1, id)
	}
	ips, err := parseIPList(args[1:])
	if err != nil {
		return 0, nil, err
	}
	return id, ips, nil
}

// ParseClientArgs parses the client's positional arguments: <ip0> <ip1> <ip2>.
func ParseClientArgs(args []string) ([]string, error) {
	if len(args) != NumReplicas {
		return nil, fmt.Errorf("expected %d arguments <ip0> <ip1> <ip2>, got %d", NumReplicas, len(args))
	}
	return parseIPList(args)
}

func parseIPList(args []string) ([]string, error) {
	ips := make([]string, NumReplicas)
	for i, a := range args {
		if a == "" {
			return nil, fmt.Errorf("ip for replica %d is empty", i)
		}
		ips[i] = a
	}
	return ips, nil
}
