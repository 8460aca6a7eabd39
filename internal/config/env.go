package config

import (
	"os"
	"strconv"

	log "github.com/nghyane/tokenproxy/internal/logging"
)

// ApplyEnvOverrides mirrors the teacher's bootstrap.ApplyEnvOverrides:
// a handful of env vars can override file-based config for container
// deployments, without requiring a config file at all.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TOKENPROXY_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
		log.Infof("listen-addr overridden by env: %s", v)
	}
	if v := os.Getenv("TOKENPROXY_HEALTH_LISTEN_ADDR"); v != "" {
		cfg.HealthListenAddr = v
		log.Infof("health-listen-addr overridden by env: %s", v)
	}
	if v := os.Getenv("TOKENPROXY_UPSTREAM_HOST"); v != "" {
		cfg.Upstream.Host = v
		log.Infof("upstream host overridden by env: %s", v)
	}
	if v, ok := lookupInt("TOKENPROXY_UPSTREAM_PORT"); ok {
		cfg.Upstream.Port = v
		log.Infof("upstream port overridden by env: %d", v)
	}
	if v := os.Getenv("TOKENPROXY_CREDENTIAL_USERNAME"); v != "" {
		cfg.Credential.Username = v
	}
	if v := os.Getenv("TOKENPROXY_CREDENTIAL_PASSWORD"); v != "" {
		cfg.Credential.Password = v
	}
	if v, ok := lookupInt("TOKENPROXY_POOL_SIZE"); ok {
		cfg.Token.PoolSize = v
		log.Infof("token pool-size overridden by env: %d", v)
	}
	if v, ok := lookupInt("TOKENPROXY_TTL_SECONDS"); ok {
		cfg.Token.TTLSeconds = v
	}
	if v, ok := lookupInt("TOKENPROXY_REFRESH_CHECK_SECONDS"); ok {
		cfg.Token.RefreshCheckSeconds = v
	}
	if v := os.Getenv("TOKENPROXY_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

func lookupInt(key string) (int, bool) {
	raw := os.Getenv(key)
	if raw == "" {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		log.Warnf("config: env %s is not a valid integer: %v", key, err)
		return 0, false
	}
	return n, true
}
