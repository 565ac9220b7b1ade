package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trade_core/internal/modules/config"
)

func TestIntervalValue(t *testing.T) {
	tests := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{raw: "15", want: 15 * time.Second},
		{raw: "0.5", want: 500 * time.Millisecond},
		{raw: "1m", want: time.Minute},
		{raw: "soon", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			var v intervalValue
			err := v.Set(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, time.Duration(v))
		})
	}
}

func TestFlagsFeedConfig(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	fs := Flags("gate")
	require.NoError(t, fs.Parse([]string{
		"--config", "../../configs/values_local.yaml",
		"--interval", "30",
		"--dry-run",
		"--profile", "conservative",
		"--rr-min", "3",
		"follow",
	}))

	cfg, err := config.NewConfig(fs)
	require.NoError(t, err)
	assert.Equal(t, config.ModeFollow, cfg.Runner.Mode)
	assert.Equal(t, 30*time.Second, cfg.Runner.Interval)
	assert.True(t, cfg.DryRun)
	assert.Equal(t, "conservative", cfg.Risk.Profile)
	assert.Equal(t, 3.0, cfg.Risk.RRMinOverride)
}

func TestRunUsageErrors(t *testing.T) {
	assert.Equal(t, 0, run("gate", []string{"--help"}))
	assert.Equal(t, 2, run("gate", []string{"--bogus"}))
	assert.Equal(t, 2, run("gate", []string{"once", "follow"}))
	assert.Equal(t, 2, run("gate", []string{"sideways"}))
}
