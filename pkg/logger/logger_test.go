package logger

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"crxharvest/pkg/config"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *config.LoggingConfig
		wantErr bool
	}{
		{"info level", &config.LoggingConfig{Level: "info"}, false},
		{"debug level", &config.LoggingConfig{Level: "debug"}, false},
		{"invalid level", &config.LoggingConfig{Level: "invalid"}, true},
		{"file output", &config.LoggingConfig{Level: "info", File: filepath.Join(t.TempDir(), "logs", "run.log")}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, l)
		})
	}
}

func TestFileOutputReceivesFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "collector.log")
	l, err := New(&config.LoggingConfig{Level: "info", File: path})
	require.NoError(t, err)

	l.WithField("id", "abcdefghijklmnopabcdefghijklmnop").InfoWithFields("Saved record", map[string]interface{}{"users": 42})

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	line := string(data)
	assert.True(t, strings.Contains(line, `"id":"abcdefghijklmnopabcdefghijklmnop"`), line)
	assert.True(t, strings.Contains(line, `"users":42`), line)
	assert.True(t, strings.Contains(line, `"app":"crxharvest"`), line)
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"debug":    zerolog.DebugLevel,
		"INFO":     zerolog.InfoLevel,
		"":         zerolog.InfoLevel,
		"warning":  zerolog.WarnLevel,
		"error":    zerolog.ErrorLevel,
		"disabled": zerolog.Disabled,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestTestLoggerSharesSinkAcrossChildren(t *testing.T) {
	l := NewTestLogger()
	child := l.WithField("stage", "download").WithError(errors.New("boom"))
	child.WarnWithFields("Item skipped", map[string]interface{}{"id": "x"})
	l.Info("done")

	msgs := l.GetMessages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "WARN", msgs[0].Level)
	assert.Equal(t, "download", msgs[0].Fields["stage"])
	assert.EqualError(t, msgs[0].Error, "boom")
	assert.Len(t, l.WarningsFor("x"), 1)
	assert.True(t, l.HasMessage("done"))
}

func TestLogItemFailure(t *testing.T) {
	l := NewTestLogger()
	LogItemFailure(l, "classify", "abc", errors.New("corrupt"))

	warns := l.WarningsFor("abc")
	require.Len(t, warns, 1)
	assert.Equal(t, "classify", warns[0].Fields["stage"])
	assert.EqualError(t, warns[0].Error, "corrupt")
}
