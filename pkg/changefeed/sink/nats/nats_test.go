package nats

import (
	"testing"

	"github.com/mariukha/CoopManager/pkg/changefeed"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigDefaults(t *testing.T) {
	var cfg Config
	require.NoError(t, changefeed.DecodeConfig(map[string]any{"prefix": "coop"}, &cfg))
	cfg.setDefaults()
	assert.Equal(t, []string{nats.DefaultURL}, cfg.Servers)
	assert.Equal(t, "COOP_CHANGES", cfg.Stream)

	cfg = Config{Prefix: "spoldzielnia", Stream: "ZMIANY"}
	cfg.setDefaults()
	assert.Equal(t, "ZMIANY", cfg.Stream)
}

func TestSubject(t *testing.T) {
	e := changefeed.Event{Payload: changefeed.Payload{
		Op:     changefeed.OpUpdate,
		Source: changefeed.Source{Schema: "public", Table: "naprawa"},
	}}
	assert.Equal(t, "coop.public.naprawa.u", Subject("coop", e))
}
