package config

import "github.com/spf13/viper"

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.readHeaderTimeout", 5)
	v.SetDefault("server.idleTimeout", 120)

	// Auth
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.jwtSecret", "")

	// Bridge
	v.SetDefault("bridge.url", "ws://localhost:3000")
	v.SetDefault("bridge.token", "")
	v.SetDefault("bridge.handshakeTimeout", 10)
	v.SetDefault("bridge.pingInterval", 30)
	v.SetDefault("bridge.callTimeout", 30)

	// Store
	v.SetDefault("store.authDir", "./data/auth")
	v.SetDefault("store.pairingDir", "./data/qr")
	v.SetDefault("store.qrSize", 512)

	// Session reconnect policy
	v.SetDefault("session.reconnectInitialInterval", 2000)
	v.SetDefault("session.reconnectMaxInterval", 30)
	v.SetDefault("session.reconnectMaxElapsed", 300)

	// Rate limiting: 10 sends per 10 minutes per session
	v.SetDefault("ratelimit.limit", 10)
	v.SetDefault("ratelimit.window", 600)

	// Dispatch
	v.SetDefault("dispatch.networkSuffix", "@c.us")
	v.SetDefault("dispatch.bulkPacing", 500)
	v.SetDefault("dispatch.bulkRetryWait", 2000)
	v.SetDefault("dispatch.fetchTimeout", 30)

	// Pairing
	v.SetDefault("pairing.pollInterval", 500)
	v.SetDefault("pairing.timeout", 10000)

	// Metrics
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9090")
	v.SetDefault("metrics.path", "/metrics")
}

func bindEnvVars(v *viper.Viper) {
	v.BindEnv("server.addr", "WAGATE_ADDR")

	v.BindEnv("auth.enabled", "WAGATE_AUTH_ENABLED")
	v.BindEnv("auth.jwtSecret", "WAGATE_AUTH_JWT_SECRET")

	v.BindEnv("bridge.url", "WAGATE_BRIDGE_URL")
	v.BindEnv("bridge.token", "WAGATE_BRIDGE_TOKEN")

	v.BindEnv("store.authDir", "WAGATE_AUTH_DIR")
	v.BindEnv("store.pairingDir", "WAGATE_PAIRING_DIR")

	v.BindEnv("ratelimit.limit", "WAGATE_RATE_LIMIT")
	v.BindEnv("ratelimit.window", "WAGATE_RATE_WINDOW")

	v.BindEnv("dispatch.networkSuffix", "WAGATE_NETWORK_SUFFIX")

	v.BindEnv("metrics.enabled", "WAGATE_METRICS_ENABLED")
	v.BindEnv("metrics.addr", "WAGATE_METRICS_ADDR")
}
