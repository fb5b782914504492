package engine

import (
	"context"
	"math/bits"
	"os"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"
)

// Config holds the immutable-after-construction parameters of §3/§6.
type Config struct {
	SendTimeoutNs int64  `yaml:"send_timeout_ns" env:"FASTPASS_SEND_TIMEOUT_NS,default=1000000"`
	ResetWindowNs int64  `yaml:"reset_window_ns" env:"FASTPASS_RESET_WINDOW_NS,default=1000000000"`
	WindowLen     uint32 `yaml:"window_len" env:"FASTPASS_OUTWND_LEN,default=128"`
	PeerAddr      string `yaml:"peer_addr" env:"FASTPASS_PEER_ADDR"`
	PeerPort      uint16 `yaml:"peer_port" env:"FASTPASS_PEER_PORT,default=9281"`
}

// Validate checks the invariants Config's callers (the engine constructor,
// the transport) rely on without re-checking themselves.
func (c *Config) Validate() error {
	var result *multierror.Error
	if c.WindowLen == 0 || bits.OnesCount32(c.WindowLen) != 1 {
		result = multierror.Append(result, errors.Errorf("window_len must be a power of two, got %d", c.WindowLen))
	}
	if c.SendTimeoutNs <= 0 {
		result = multierror.Append(result, errors.New("send_timeout_ns must be positive"))
	}
	if c.ResetWindowNs <= 0 {
		result = multierror.Append(result, errors.New("reset_window_ns must be positive"))
	}
	if c.PeerAddr == "" {
		result = multierror.Append(result, errors.New("peer_addr is required"))
	}
	return result.ErrorOrNil()
}

// ConfigFromEnv loads Config from FASTPASS_* environment variables.
func ConfigFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(context.Background(), &cfg); err != nil {
		return nil, errors.Wrap(err, "loading config from environment")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ConfigFromFile loads Config from a YAML file, falling back to FASTPASS_*
// environment overrides for anything the file leaves zero-valued.
func ConfigFromFile(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading config file %s", path)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, errors.Wrapf(err, "parsing config file %s", path)
	}
	if err := envconfig.Process(context.Background(), &cfg); err != nil {
		return nil, errors.Wrap(err, "applying environment overrides")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
