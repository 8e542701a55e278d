package config

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/viper"
)

// Environment variables that override file settings when set and non-empty.
const (
	EnvHatchEmail     = "HATCH_EMAIL"
	EnvHatchPassword  = "HATCH_PASSWORD"
	EnvServiceAccount = "GOOGLE_SERVICE_ACCOUNT_FILE"
	EnvShareEmail     = "GOOGLE_CALENDAR_SHARE_EMAIL"
	EnvRedisURL       = "REDIS_URL"
	EnvCacheTTL       = "HATCH_CACHE_TTL_SECONDS"
)

// ApplyEnv overlays environment variables onto cfg so secrets can stay out
// of the config file. HATCH_CACHE_TTL_SECONDS sets cache.data_ttl.
func ApplyEnv(cfg *Config) error {
	v := viper.New()
	for _, key := range []string{
		EnvHatchEmail, EnvHatchPassword, EnvServiceAccount,
		EnvShareEmail, EnvRedisURL, EnvCacheTTL,
	} {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("binding %s: %w", key, err)
		}
	}

	overlay := func(dst *string, key string) {
		if s := v.GetString(key); s != "" {
			*dst = s
		}
	}
	overlay(&cfg.Hatch.Email, EnvHatchEmail)
	overlay(&cfg.Hatch.Password, EnvHatchPassword)
	overlay(&cfg.Google.ServiceAccountFile, EnvServiceAccount)
	overlay(&cfg.Google.ShareEmail, EnvShareEmail)
	overlay(&cfg.Cache.RedisURL, EnvRedisURL)

	if s := v.GetString(EnvCacheTTL); s != "" {
		secs, err := strconv.Atoi(s)
		if err != nil || secs <= 0 {
			return fmt.Errorf("%s=%q must be a positive number of seconds", EnvCacheTTL, s)
		}
		cfg.Cache.DataTTL = time.Duration(secs) * time.Second
	}
	return nil
}
