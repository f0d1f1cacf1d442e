package config

import "errors"

func (c *AppConfig) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("server addr must be set")
	}

	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		return errors.New("auth.jwtSecret must be set when auth is enabled")
	}

	if c.Bridge.URL == "" {
		return errors.New("bridge.url must be set")
	}

	if c.Store.AuthDir == "" || c.Store.PairingDir == "" {
		return errors.New("store.authDir and store.pairingDir must be set")
	}

	if c.RateLimit.Limit < 1 {
		return errors.New("ratelimit.limit must be positive")
	}
	if c.RateLimit.Window < 1 {
		return errors.New("ratelimit.window must be positive")
	}

	if c.Dispatch.BulkPacing < 0 || c.Dispatch.BulkRetryWait < 0 {
		return errors.New("dispatch pacing values must not be negative")
	}

	if c.Pairing.PollInterval < 1 {
		return errors.New("pairing.pollInterval must be positive")
	}
	if c.Pairing.Timeout <= c.Pairing.PollInterval {
		return errors.New("pairing.timeout must exceed the poll interval")
	}

	if c.Session.ReconnectMaxElapsed < 1 {
		return errors.New("session.reconnectMaxElapsed must be positive")
	}

	return nil
}
