package logging

import (
	"bytes"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerSingleton(t *testing.T) {
	a := NewLogger("test-singleton")
	b := NewLogger("test-singleton")
	assert.Same(t, a, b, "NewLogger should return the same entry per component")
}

func TestTextFormatter(t *testing.T) {
	tests := []struct {
		name     string
		config   FormatConfig
		contains []string
		excludes []string
	}{
		{
			name:     "default includes component and level",
			config:   FormatConfig{},
			contains: []string{"[INFO]", "[bridge]", "hello"},
		},
		{
			name:     "simple drops timestamp and component",
			config:   FormatConfig{DisableTimestamp: true, DisableComponent: true},
			contains: []string{"[INFO]", "hello"},
			excludes: []string{"[bridge]"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &TextFormatter{Config: tt.config}
			logger := logrus.New()
			entry := logger.WithField("component", "bridge")
			entry.Time = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
			entry.Level = logrus.InfoLevel
			entry.Message = "hello"

			out, err := f.Format(entry)
			require.NoError(t, err)

			for _, s := range tt.contains {
				assert.Contains(t, string(out), s)
			}
			for _, s := range tt.excludes {
				assert.NotContains(t, string(out), s)
			}
			assert.True(t, bytes.HasSuffix(out, []byte("\n")))
		})
	}
}

func TestFormatterAppendsFields(t *testing.T) {
	f := &TextFormatter{Config: FormatConfig{DisableTimestamp: true}}
	logger := logrus.New()
	entry := logger.WithFields(logrus.Fields{"component": "store", "library": "weapons"})
	entry.Level = logrus.WarnLevel
	entry.Message = "duplicate id"

	out, err := f.Format(entry)
	require.NoError(t, err)
	assert.Contains(t, string(out), "library=weapons")
	assert.Contains(t, string(out), "[WARN]")
}
