package config

import (
	"time"

	"github.com/spf13/viper"
)

// DefaultDateLayouts are the accepted spellings of the service due date.
var DefaultDateLayouts = []string{
	"2006-01-02",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006/01/02",
	"2006/01/02 15:04:05",
}

// SetDefaults registers every key so AutomaticEnv can override it.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("proxy.listen", "127.0.0.1:8787")
	v.SetDefault("proxy.upstream", "https://go.tradifyhq.com")

	v.SetDefault("remote.api_base", "https://go.tradifyhq.com/api")
	v.SetDefault("remote.app_url", "https://go.tradifyhq.com")
	v.SetDefault("remote.client_api_version", "69")
	v.SetDefault("remote.created_by", "00000000-0000-0000-0000-000000000000")
	v.SetDefault("remote.tenant_id", "00000000-0000-0000-0000-000000000000")
	v.SetDefault("remote.description", "Automated creation")
	v.SetDefault("remote.email_send_mode", 1)

	v.SetDefault("transport.timeout", 15*time.Second)
	v.SetDefault("transport.max_attempts", 3)
	v.SetDefault("transport.base_delay", 500*time.Millisecond)
	v.SetDefault("transport.rate_per_second", 0.0)
	v.SetDefault("transport.burst", 1)

	v.SetDefault("credential.interval", 250*time.Millisecond)
	v.SetDefault("credential.max_wait", 10*time.Second)
	v.SetDefault("credential.token", "")
	v.SetDefault("credential.file", "")
	v.SetDefault("credential.file_key", "requestVerificationToken")
	v.SetDefault("credential.envelope_field", "token")
	v.SetDefault("credential.redis_addr", "")
	v.SetDefault("credential.redis_key", "remsync:credential")

	v.SetDefault("engine.debounce", time.Second)
	v.SetDefault("engine.settle", 500*time.Millisecond)
	v.SetDefault("engine.job_fetch_wait", 3*time.Second)
	v.SetDefault("engine.cycle_timeout", time.Minute)
	v.SetDefault("engine.date_layouts", DefaultDateLayouts)
	v.SetDefault("engine.location", "local")

	v.SetDefault("notify.redis_addr", "")
	v.SetDefault("notify.redis_list", "remsync:notifications")

	v.SetDefault("log.json", false)
	v.SetDefault("log.verbose", false)
}
