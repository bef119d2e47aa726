package main

import (
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recoverydesk/case-service/config"
)

func TestApplyIngestFlags(t *testing.T) {
	tests := []struct {
		name      string
		args      []string
		wantDelay time.Duration
		wantBatch int
		wantStore string
	}{
		{
			name:      "configured values kept without flags",
			wantDelay: 200 * time.Millisecond,
			wantBatch: 10,
			wantStore: "memory",
		},
		{
			name:      "explicit zero delay",
			args:      []string{"--delay", "0s"},
			wantDelay: 0,
			wantBatch: 10,
			wantStore: "memory",
		},
		{
			name:      "all overrides",
			args:      []string{"--delay", "1s", "--batch-size", "25", "--store", "sqlite"},
			wantDelay: time.Second,
			wantBatch: 25,
			wantStore: "sqlite",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := &cobra.Command{Use: "ingest"}
			registerIngestFlags(cmd)
			require.NoError(t, cmd.Flags().Parse(tt.args))

			c := &config.Config{}
			c.Ingestion.BatchSize = 10
			c.Ingestion.BatchDelay = 200 * time.Millisecond
			c.Store.Driver = "memory"

			applyIngestFlags(cmd, c)
			assert.Equal(t, tt.wantDelay, c.Ingestion.BatchDelay)
			assert.Equal(t, tt.wantBatch, c.Ingestion.BatchSize)
			assert.Equal(t, tt.wantStore, c.Store.Driver)
		})
	}
}
