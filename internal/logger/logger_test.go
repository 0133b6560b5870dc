package logger

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gradeflow/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{"WARN", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"", LevelInfo},
		{"verbose", LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestInitWritesToRotatingFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "logs", "app.log")
	require.NoError(t, Init(config.LogConfig{Level: "info", File: file, MaxSizeMB: 1}, "TEST"))
	defer Close()

	Debugf("hidden %d", 1)
	Infof("[Test] visible %d", 2)

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	out := string(data)
	assert.True(t, strings.Contains(out, "[Test] visible 2"))
	assert.False(t, strings.Contains(out, "hidden 1"))
}

func TestLoggingDuringReinit(t *testing.T) {
	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				Debugf("worker %d", n)
				Infof("worker %d", n)
				Warnf("worker %d", n)
				Errorf("worker %d", n)
			}
		}(i)
	}

	levels := []string{"debug", "info", "warn", "error"}
	for i := 0; i < 50; i++ {
		require.NoError(t, Init(config.LogConfig{Level: levels[i%len(levels)]}, "TEST"))
	}
	close(stop)
	wg.Wait()

	require.NoError(t, Init(config.LogConfig{Level: "info"}, "TEST"))
	assert.Nil(t, sink(LevelDebug))
	assert.NotNil(t, sink(LevelWarn))
}
