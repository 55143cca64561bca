package conformance

import (
	"encoding/json"
	"flag"
	"fmt"
	"testing"

	"github.com/gomlx/gpushare/gpu"
	_ "github.com/gomlx/gpushare/gpu/host"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"
)

var flagBackend = flag.String("backend", "host", "backend to run the conformance checks on")

func init() {
	klog.InitFlags(nil)
}

// checkOutcome returns the outcome of the named check in the report.
func checkOutcome(t *testing.T, report Report, name string) Outcome {
	for _, c := range report.Checks {
		if c.Name == name {
			return c.Outcome
		}
	}
	require.Failf(t, "check not found", "check %q not in report", name)
	return Fail
}

func TestRun(t *testing.T) {
	report := Run(*flagBackend, nil)
	fmt.Print(report.String())
	if report.Outcome == Skip {
		t.Skipf("backend %q not available: %v", *flagBackend, report.Err)
	}
	require.Equal(t, Pass, report.Outcome, "conformance failed: %v", report.Err)
	require.Len(t, report.Checks, len(checks))
	for _, c := range report.Checks {
		require.NotEqualf(t, Fail, c.Outcome, "check %s failed: %s", c.Name, c.Detail)
	}
}

func TestRunWithoutFD(t *testing.T) {
	if *flagBackend != "host" {
		t.Skip("handle_fd option is specific to the host backend")
	}
	report := Run("host", gpu.NamedValuesMap{"handle_fd": false})
	fmt.Print(report.String())
	if report.Outcome == Skip {
		t.Skipf("host backend not available: %v", report.Err)
	}
	require.Equal(t, Pass, report.Outcome, "conformance failed: %v", report.Err)
	require.Equal(t, Skip, checkOutcome(t, report, "export_fd_buffer"))
	require.Equal(t, Pass, checkOutcome(t, report, "unsupported_handle_kind"))
	require.Equal(t, Pass, checkOutcome(t, report, "import_round_trip"), "should use host pointers")
}

func TestRunUnavailable(t *testing.T) {
	report := Run("no-such-backend", nil)
	require.Equal(t, Skip, report.Outcome)
	require.True(t, gpu.IsUnavailable(report.Err))
	require.Empty(t, report.Checks)

	// Invalid options are a failure, not a skip.
	report = Run(*flagBackend, gpu.NamedValuesMap{"invalid": 1})
	require.Equal(t, Fail, report.Outcome)
}

func TestVerifyExportedHandle(t *testing.T) {
	require.NoError(t, verifyExportedHandle(&gpu.Handle{Kind: gpu.HandleFD, OSHandle: 7, Size: TransferSize},
		gpu.HandleFD, TransferSize))

	err := verifyExportedHandle(&gpu.Handle{Kind: gpu.HandleFD, OSHandle: 0, Size: TransferSize},
		gpu.HandleFD, TransferSize)
	fmt.Printf("\tnull OS handle: %v\n", err)
	require.ErrorContains(t, err, "null OS handle")

	err = verifyExportedHandle(&gpu.Handle{Kind: gpu.HandleHostPtr, OSHandle: 7, Size: TransferSize},
		gpu.HandleFD, TransferSize)
	require.ErrorContains(t, err, "invalid")

	err = verifyExportedHandle(&gpu.Handle{Kind: gpu.HandleFD, OSHandle: 7, Size: TransferSize / 2},
		gpu.HandleFD, TransferSize)
	require.ErrorContains(t, err, "smaller")
}

func TestReportJSON(t *testing.T) {
	report := Report{
		Backend: "host",
		Outcome: Pass,
		Checks:  []Check{{Name: "export_fd_buffer", Outcome: Skip, Detail: "no fd"}},
	}
	data := must.M1(json.Marshal(&report))
	fmt.Printf("\t%s\n", data)
	require.JSONEq(t,
		`{"backend":"host","outcome":"pass","checks":[{"name":"export_fd_buffer","outcome":"skip","detail":"no fd"}]}`,
		string(data))
}
