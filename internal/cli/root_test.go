package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skymirror/internal/config"
)

func TestVersionNotEmpty(t *testing.T) {
	assert.NotEmpty(t, Version)
}

func TestExecuteVersion(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	defer rootCmd.SetArgs(nil)

	require.NoError(t, Execute(context.Background()))
	assert.Contains(t, out.String(), "skymirror "+Version)
}

func TestCheckFailsOnMissingConfig(t *testing.T) {
	t.Setenv("TARGET_USER", "")
	t.Setenv("RAPIDAPI_KEY", "")
	t.Setenv("SESSION_FILE", filepath.Join(t.TempDir(), "none.txt"))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs([]string{"check", "--env-file", ""})
	defer rootCmd.SetArgs(nil)

	err := Execute(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TARGET_USER is required")
}

func TestLoopConfig(t *testing.T) {
	cfg := &config.Config{
		TargetUser:       "someone",
		PollInterval:     time.Minute,
		FallbackInterval: time.Hour,
	}
	lc := loopConfig(cfg)
	assert.Equal(t, "someone", lc.TargetUser)
	assert.Equal(t, time.Minute, lc.PollInterval)
	assert.Equal(t, time.Hour, lc.FallbackInterval)
}
