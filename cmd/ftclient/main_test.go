package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ftsession/internal/config"
)

func TestApplyArgs(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		list     bool
		get      string
		wantErr  string
		wantCmd  string
		wantFile string
	}{
		{name: "list", args: []string{"flip1", "30021", "30020"}, list: true, wantCmd: config.CommandList},
		{name: "get", args: []string{"flip1", "30021", "30020"}, get: "notes.txt", wantCmd: config.CommandGet, wantFile: "notes.txt"},
		{name: "neither", args: []string{"flip1", "30021", "30020"}, wantErr: "exactly one of"},
		{name: "both", args: []string{"flip1", "30021", "30020"}, list: true, get: "x", wantErr: "exactly one of"},
		{name: "bad port", args: []string{"flip1", "port", "30020"}, list: true, wantErr: "invalid server port"},
		{name: "bad data port", args: []string{"flip1", "30021", "99999"}, list: true, wantErr: "data port must be between"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultClientConfig()
			err := applyArgs(cfg, tt.args, tt.list, tt.get)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "flip1", cfg.ServerHost)
			assert.Equal(t, 30021, cfg.ServerPort)
			assert.Equal(t, 30020, cfg.DataPort)
			assert.Equal(t, tt.wantCmd, cfg.Command)
			assert.Equal(t, tt.wantFile, cfg.Filename)
		})
	}
}

func TestWrongArgumentCountPrintsUsage(t *testing.T) {
	cmd := newRootCmd()
	var stderr bytes.Buffer
	cmd.SetErr(&stderr)
	cmd.SetOut(&stderr)
	cmd.SetArgs([]string{"flip1", "-l"})

	require.Error(t, cmd.Execute())
	assert.Contains(t, stderr.String(), "Usage:")
}
