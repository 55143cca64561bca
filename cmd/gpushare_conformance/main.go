// gpushare_conformance runs the conformance checks on a gpu backend, and prints the report.
//
// It exits with code 0 if all checks pass, 1 if any check fails, and 77 if the backend is not available on this
// machine (the automake convention for skipped tests).
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/gomlx/gpushare/gpu"
	_ "github.com/gomlx/gpushare/gpu/host"
	"github.com/gomlx/gpushare/internal/conformance"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"k8s.io/klog/v2"
)

// ExitSkip is the exit code used when the backend is not available.
const ExitSkip = 77

var (
	flagBackend = flag.String("backend", gpu.DefaultBackendName(),
		fmt.Sprintf("Backend to check. Defaults to $%s or %q if not set.", gpu.BackendEnv, gpu.DefaultBackend))
	flagJSON    = flag.Bool("json", false, "Print the report in JSON format.")
	flagMetrics = flag.Bool("metrics", false, "Print the gpushare metrics collected during the run, in Prometheus text format.")
	flagDebug   = flag.Bool("debug", false, "Set the backend \"debug\" option, to log every allocation.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	registry := prometheus.NewRegistry()
	if err := gpu.RegisterMetrics(registry); err != nil {
		klog.Fatalf("Failed to register metrics: %+v", err)
	}

	var options gpu.NamedValuesMap
	if *flagDebug {
		options = gpu.NamedValuesMap{"debug": true}
	}
	report := conformance.Run(*flagBackend, options)
	if *flagJSON {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(&report); err != nil {
			klog.Fatalf("Failed to encode report: %+v", err)
		}
	} else {
		fmt.Print(report.String())
	}
	if *flagMetrics {
		if err := writeMetrics(os.Stdout, registry); err != nil {
			klog.Errorf("Failed to print metrics: %+v", err)
		}
	}

	switch report.Outcome {
	case conformance.Pass:
		os.Exit(0)
	case conformance.Skip:
		os.Exit(ExitSkip)
	default:
		os.Exit(1)
	}
}

// writeMetrics writes the gathered metrics in the Prometheus text exposition format.
func writeMetrics(w io.Writer, registry *prometheus.Registry) error {
	families, err := registry.Gather()
	if err != nil {
		return errors.Wrap(err, "failed to gather metrics")
	}
	for _, family := range families {
		if _, err := expfmt.MetricFamilyToText(w, family); err != nil {
			return errors.Wrapf(err, "failed to write metric %s", family.GetName())
		}
	}
	return nil
}
