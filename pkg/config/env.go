package config

import (
	"strings"

	"github.com/spf13/viper"
)

var envKeyReplacer = strings.NewReplacer(".", "_")

// AutomaticEnv only resolves keys viper already knows about, so keys that
// have no flag and may be absent from the file are bound explicitly.
var envKeys = []string{
	"rest.listenAddr",
	"rest.baseURL",
	"rest.corsOrigins",
	"rest.readTimeout",
	"rest.writeTimeout",
	"rest.tlsCertFile",
	"rest.tlsKeyFile",
	"db.connString",
	"db.readConnString",
	"db.schema",
	"db.maxConns",
	"auth.jwtSecret",
	"auth.tokenTTL",
	"auth.required",
	"auth.loginRate",
	"auth.loginBurst",
	"cache.ttl",
	"metrics.enabled",
	"metrics.addr",
	"feed.replication.connString",
	"feed.replication.publication",
	"feed.replication.slot",
}

func bindEnv(v *viper.Viper) {
	for _, k := range envKeys {
		_ = v.BindEnv(k)
	}
}

// setDefaults registers the defaults of keys that commands expose as flags.
// An unset flag still reports its zero default to viper, which would
// otherwise win over the struct defaults during Unmarshal.
func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("rest.listenAddr", d.REST.ListenAddr)
	v.SetDefault("db.schema", d.DB.Schema)
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("feed.replication.publication", d.Feed.Replication.Publication)
	v.SetDefault("feed.replication.slot", d.Feed.Replication.Slot)
}
