package main

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/gomlx/gpushare/gpu"
	"github.com/gomlx/gpushare/internal/conformance"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestWriteMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	require.NoError(t, gpu.RegisterMetrics(registry))
	report := conformance.Run("host", nil)
	if report.Outcome == conformance.Skip {
		t.Skipf("host backend not available: %v", report.Err)
	}

	var buf bytes.Buffer
	require.NoError(t, writeMetrics(&buf, registry))
	fmt.Print(buf.String())
	require.Contains(t, buf.String(), "# HELP gpushare_resources_alive ")
	require.Contains(t, buf.String(), "# TYPE gpushare_resources_alive gauge")
	require.Contains(t, buf.String(), "# TYPE gpushare_resource_bytes gauge")
	require.Contains(t, buf.String(), `gpushare_resource_bytes{backend="host"} 0`)
}
