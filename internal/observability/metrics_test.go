package observability

import (
	"bytes"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRegistered(t *testing.T) {
	PoolAttemptsTotal.WithLabelValues("success").Inc()
	PoolQuarantinesTotal.WithLabelValues("failure").Inc()
	PoolSelectionsTotal.WithLabelValues("sampled").Inc()
	StreamObjectsTotal.WithLabelValues("parsed").Inc()
	RequestsTotal.WithLabelValues("/v1/chat/completions", "200").Inc()

	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)

	expected := map[string]bool{
		"gpool_requests_total":               false,
		"gpool_streaming_connections_active": false,
		"gpool_pool_attempts_total":          false,
		"gpool_pool_quarantines_total":       false,
		"gpool_pool_selections_total":        false,
		"gpool_stream_objects_total":         false,
	}
	for _, mf := range families {
		if _, ok := expected[mf.GetName()]; ok {
			expected[mf.GetName()] = true
		}
	}

	for name, found := range expected {
		assert.True(t, found, "metric %q not registered", name)
	}
}

func TestConfigureLogging(t *testing.T) {
	original := log.StandardLogger().Out
	t.Cleanup(func() {
		log.SetOutput(original)
		log.SetLevel(log.InfoLevel)
		log.SetFormatter(&log.TextFormatter{})
	})

	var buf bytes.Buffer
	require.NoError(t, ConfigureLogging(&buf, "debug", "json"))
	log.WithField("account", "a.json").Debug("hello")
	assert.Contains(t, buf.String(), `"account":"a.json"`)

	assert.Error(t, ConfigureLogging(nil, "loud", "text"))
	assert.Error(t, ConfigureLogging(nil, "info", "xml"))
}
