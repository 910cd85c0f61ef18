package mqtt

import (
	"strings"
	"testing"
	"time"

	"github.com/mariukha/CoopManager/pkg/changefeed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestConfig(t *testing.T) {
	var cfg Config
	require.NoError(t, changefeed.DecodeConfig(map[string]any{
		"servers":        []any{"tcp://broker:1883"},
		"qos":            1,
		"connectTimeout": "2s",
	}, &cfg))
	cfg.setDefaults()
	require.NoError(t, cfg.validate())

	assert.Equal(t, "coop", cfg.Prefix)
	assert.EqualValues(t, 1, cfg.QoS)
	assert.Equal(t, 2*time.Second, cfg.ConnectTimeout)
	assert.True(t, strings.HasPrefix(cfg.ClientID, "coop-feed-"))

	opts := cfg.clientOptions(zap.NewNop())
	require.Len(t, opts.Servers, 1)
	assert.Equal(t, "broker:1883", opts.Servers[0].Host)

	cfg.QoS = 3
	assert.Error(t, cfg.validate())
}

func TestTopic(t *testing.T) {
	e := changefeed.Event{Payload: changefeed.Payload{
		Op:     changefeed.OpCreate,
		Source: changefeed.Source{Schema: "public", Table: "oplata"},
	}}
	assert.Equal(t, "coop/public/oplata/c", Topic("coop", e))
}
