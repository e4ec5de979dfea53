package logging

import (
	"bytes"
	"testing"

	"github.com/prometheus/common/model"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/timzifer/paramflow/config"
)

func TestSetupJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, cleanup, err := Setup(config.LoggingConfig{Level: "WARN", Format: "json"}, &buf)
	require.NoError(t, err)
	defer cleanup()

	logger.Info().Msg("hidden")
	logger.Warn().Str("component", "upload").Msg("visible")
	require.Equal(t, "visible", gjson.Get(buf.String(), "message").String())
	require.Equal(t, "upload", gjson.Get(buf.String(), "component").String())
	require.Equal(t, zerolog.WarnLevel, logger.GetLevel())
}

func TestSetupRejectsInvalidOptions(t *testing.T) {
	_, _, err := Setup(config.LoggingConfig{Level: "loud"}, nil)
	require.Error(t, err)
	_, _, err = Setup(config.LoggingConfig{Format: "xml"}, nil)
	require.Error(t, err)
	_, _, err = Setup(config.LoggingConfig{Loki: config.LokiConfig{Enabled: true}}, nil)
	require.Error(t, err)
}

func TestLabels(t *testing.T) {
	labels := Labels(config.LokiConfig{Labels: map[string]string{"vehicle": "quad"}})
	require.Equal(t, model.LabelSet{"app": "paramflow", "vehicle": "quad"}, labels)

	withLevel := streamLabels(labels, `{"level":"error","message":"x"}`)
	require.Equal(t, model.LabelValue("error"), withLevel["level"])
	_, ok := labels["level"]
	require.False(t, ok)
	require.Equal(t, labels, streamLabels(labels, "plain text"))
}
