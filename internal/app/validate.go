package app

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks that values are usable
func (c *Config) Validate() error {
	switch c.AuthMode {
	case "token", "jwt":
	default:
		return fmt.Errorf("auth_mode must be token or jwt, got %q", c.AuthMode)
	}
	if c.AuthMode == "jwt" && c.JWTSecret == "" {
		return errors.New("jwt_secret is required when auth_mode is jwt")
	}

	if strings.Contains(c.Namespace, ":") {
		return fmt.Errorf("namespace must not contain ':', got %q", c.Namespace)
	}
	if c.HeartbeatInterval < 0 {
		return errors.New("heartbeat_interval must be positive")
	}

	switch c.Policy {
	case "broadcast", "sync":
	default:
		return fmt.Errorf("policy must be broadcast or sync, got %q", c.Policy)
	}

	if c.RedisDB < 0 {
		return errors.New("redis_db must be >= 0")
	}
	if c.SendBuffer < 1 {
		return errors.New("send_buffer must be >= 1")
	}
	if c.MessageRate < 0 {
		return errors.New("message_rate must be >= 0")
	}
	if c.PGMaxConn < 1 {
		return errors.New("pg_max_conn must be >= 1")
	}
	return nil
}
