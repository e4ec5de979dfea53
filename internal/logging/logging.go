// Package logging builds the process logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/grafana/loki-client-go/loki"
	"github.com/prometheus/common/model"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/timzifer/paramflow/config"
)

// Setup creates a zerolog logger writing to out (stderr when nil) and, when
// enabled, to Loki. The returned cleanup flushes the Loki client.
func Setup(cfg config.LoggingConfig, out io.Writer) (zerolog.Logger, func(), error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return zerolog.Logger{}, nil, err
	}
	if out == nil {
		out = os.Stderr
	}

	var console io.Writer = out
	switch strings.ToLower(cfg.Format) {
	case "", "text", "console":
		console = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	case "json":
	default:
		return zerolog.Logger{}, nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	writers := []io.Writer{console}
	cleanup := func() {}
	if cfg.Loki.Enabled {
		sink, err := newLokiSink(cfg.Loki)
		if err != nil {
			return zerolog.Logger{}, nil, err
		}
		writers = append(writers, sink)
		cleanup = sink.client.Stop
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger().Level(level)
	return logger, cleanup, nil
}

func parseLevel(raw string) (zerolog.Level, error) {
	if strings.TrimSpace(raw) == "" {
		return zerolog.InfoLevel, nil
	}
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(raw)))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("parse log level: %w", err)
	}
	return level, nil
}

// Labels returns the Loki stream labels for cfg. The app label defaults to
// paramflow.
func Labels(cfg config.LokiConfig) model.LabelSet {
	labels := model.LabelSet{"app": "paramflow"}
	for k, v := range cfg.Labels {
		labels[model.LabelName(k)] = model.LabelValue(v)
	}
	return labels
}

type lokiSink struct {
	client *loki.Client
	labels model.LabelSet
}

func newLokiSink(cfg config.LokiConfig) (*lokiSink, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("loki url is required")
	}
	lokiCfg, err := loki.NewDefaultConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("prepare loki config: %w", err)
	}
	client, err := loki.New(lokiCfg)
	if err != nil {
		return nil, fmt.Errorf("create loki client: %w", err)
	}
	return &lokiSink{client: client, labels: Labels(cfg)}, nil
}

// Write forwards a JSON log line, labelled with its level.
func (l *lokiSink) Write(p []byte) (int, error) {
	entry := strings.TrimSpace(string(p))
	if entry == "" {
		return len(p), nil
	}
	labels := streamLabels(l.labels, entry)
	return len(p), l.client.Handle(labels, time.Now(), entry)
}

func streamLabels(base model.LabelSet, entry string) model.LabelSet {
	level := gjson.Get(entry, zerolog.LevelFieldName)
	if !level.Exists() {
		return base
	}
	labels := base.Clone()
	labels["level"] = model.LabelValue(level.String())
	return labels
}
