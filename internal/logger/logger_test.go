package logger

import (
	"os"
	"path/filepath"
	"testing"

	"signal-backtest-go/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	testCases := []struct {
		name    string
		cfg     config.Logger
		wantErr bool
	}{
		{name: "console", cfg: config.Logger{Level: "debug", Format: "console"}},
		{name: "json", cfg: config.Logger{Level: "info", Format: "json"}},
		{name: "bad level", cfg: config.Logger{Level: "loud"}, wantErr: true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			l, err := NewLogger(tc.cfg)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, l)
		})
	}
}

func TestNewLoggerWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.log")
	l, err := NewLogger(config.Logger{Level: "info", Format: "json", Output: []string{path}})
	require.NoError(t, err)

	l.Info("Run started")
	_ = l.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Run started")
}
