// Package agent wires the events, manager, and apphost packages into a
// bootable daemon (spec.md §4.7's "the host starts apps after the Manager
// is live"). It is an entrypoint, not part of the core: the core never
// imports it.
package agent

import (
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/go-envparse"
	"github.com/hashicorp/go-hclog"
)

// Config is the agent's process-level configuration. It has no relation to
// ProcessTemplate specs; it configures the daemon itself.
type Config struct {
	BindAddr   string        `mapstructure:"bind_addr"`
	LogLevel   string        `mapstructure:"log_level"`
	EnvFile    string        `mapstructure:"env_file"`
	DefaultSession string    `mapstructure:"default_session"`
	SchedulerPoll  time.Duration `mapstructure:"scheduler_poll"`
}

// DefaultConfig returns the agent's built-in defaults, overridden by
// environment and, optionally, an env file.
func DefaultConfig() *Config {
	return &Config{
		BindAddr:       "127.0.0.1:8282",
		LogLevel:       "info",
		DefaultSession: "default",
		SchedulerPoll:  time.Second,
	}
}

// LoadEnv overlays process environment variables, and optionally an
// env-file's KEY=VALUE pairs, onto c. Recognized keys: GAFFER_BIND_ADDR,
// GAFFER_LOG_LEVEL, GAFFER_DEFAULT_SESSION.
func (c *Config) LoadEnv() error {
	env := map[string]string{}
	if c.EnvFile != "" {
		f, err := os.Open(c.EnvFile)
		if err != nil {
			return fmt.Errorf("agent: open env file: %w", err)
		}
		defer f.Close()
		parsed, err := envparse.Parse(f)
		if err != nil {
			return fmt.Errorf("agent: parse env file: %w", err)
		}
		env = parsed
	}
	for _, kv := range os.Environ() {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				env[kv[:i]] = kv[i+1:]
				break
			}
		}
	}

	if v, ok := env["GAFFER_BIND_ADDR"]; ok {
		c.BindAddr = v
	}
	if v, ok := env["GAFFER_LOG_LEVEL"]; ok {
		c.LogLevel = v
	}
	if v, ok := env["GAFFER_DEFAULT_SESSION"]; ok {
		c.DefaultSession = v
	}
	return nil
}

// Logger builds the agent's root hclog.Logger per c.LogLevel.
func (c *Config) Logger() hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:  "gaffer",
		Level: hclog.LevelFromString(c.LogLevel),
	})
}
