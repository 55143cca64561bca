// Package conformance implements the checks every gpu backend must pass: creation of exportable buffers, export
// of file descriptors, capability enforcement and the import of exported handles in a second context.
//
// It is used by the tests of the backends and by the gpushare_conformance command.
package conformance

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/gomlx/gpushare/gpu"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Outcome of a check or of a whole run.
type Outcome int

const (
	Pass Outcome = iota
	Fail
	Skip
)

// String implements fmt.Stringer.
func (o Outcome) String() string {
	switch o {
	case Pass:
		return "pass"
	case Fail:
		return "fail"
	case Skip:
		return "skip"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// MarshalText implements encoding.TextMarshaler, so outcomes are written by name in JSON reports.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// Check is the result of one conformance check.
type Check struct {
	Name    string  `json:"name"`
	Outcome Outcome `json:"outcome"`
	Detail  string  `json:"detail,omitempty"`
}

// Report of a conformance run on one backend.
//
// Outcome is Skip if no context could be created on the backend (the backend or its device is not available on
// this machine), Fail if any check failed and Pass otherwise. Individual checks that need a capability the
// device doesn't have are skipped, and don't fail the run.
type Report struct {
	Backend string  `json:"backend"`
	Outcome Outcome `json:"outcome"`
	Checks  []Check `json:"checks"`

	// Err is the reason the run was skipped or, if it failed, the first failure.
	Err error `json:"-"`

	// Error is Err as a string, for the JSON output.
	Error string `json:"error,omitempty"`
}

// String implements fmt.Stringer: one line per check.
func (r *Report) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Conformance of backend %q: %s\n", r.Backend, strings.ToUpper(r.Outcome.String()))
	for _, check := range r.Checks {
		fmt.Fprintf(&sb, "  - %-24s %s", check.Name, check.Outcome)
		if check.Detail != "" {
			fmt.Fprintf(&sb, ": %s", check.Detail)
		}
		sb.WriteString("\n")
	}
	if r.Err != nil {
		fmt.Fprintf(&sb, "  error: %v\n", r.Err)
	}
	return sb.String()
}

// TransferSize is the size of the buffers created by the checks.
const TransferSize = 1024

// errSkip is returned by checks that can't run with the capabilities of the device.
type errSkip struct {
	reason string
}

func (e *errSkip) Error() string { return e.reason }

func skipf(format string, args ...any) error {
	return &errSkip{reason: fmt.Sprintf(format, args...)}
}

// check is one conformance check, run on a fresh context of the backend.
type check struct {
	name string
	fn   func(env *environment) error
}

// environment of the checks.
type environment struct {
	backend *gpu.Backend
	options gpu.NamedValuesMap
	ctx     *gpu.Context
}

var checks = []check{
	{"export_fd_buffer", checkExportFDBuffer},
	{"export_idempotent", checkExportIdempotent},
	{"not_exportable", checkNotExportable},
	{"unsupported_handle_kind", checkUnsupportedHandleKind},
	{"import_round_trip", checkImportRoundTrip},
	{"destroy_idempotent", checkDestroyIdempotent},
}

// Run the conformance checks on the backend registered with the given name. The options are passed to the
// backend when creating contexts.
func Run(backendName string, options gpu.NamedValuesMap) Report {
	report := Report{Backend: backendName}
	backend, err := gpu.GetBackend(backendName)
	if err == nil {
		// Probe that a context can be created at all.
		var ctx *gpu.Context
		ctx, err = backend.NewContext(options)
		if err == nil {
			klog.V(1).Infof("running conformance checks on %s", ctx)
			err = ctx.Destroy()
		}
	}
	if err != nil {
		report.Err = err
		report.Outcome = Fail
		if gpu.IsUnavailable(err) {
			report.Outcome = Skip
		}
		report.Error = err.Error()
		return report
	}

	for _, c := range checks {
		result := runCheck(backend, options, c)
		klog.V(1).Infof("check %s: %s %s", result.Name, result.Outcome, result.Detail)
		if result.Outcome == Fail && report.Err == nil {
			report.Err = errors.Errorf("check %s failed: %s", result.Name, result.Detail)
		}
		report.Checks = append(report.Checks, result)
	}
	report.Outcome = Pass
	if report.Err != nil {
		report.Outcome = Fail
		report.Error = report.Err.Error()
	}
	return report
}

// runCheck runs one check in its own context, and converts its error to a Check result.
func runCheck(backend *gpu.Backend, options gpu.NamedValuesMap, c check) (result Check) {
	result.Name = c.name
	ctx, err := backend.NewContext(options)
	if err != nil {
		result.Outcome = Fail
		result.Detail = fmt.Sprintf("failed to create context: %v", err)
		return
	}
	defer func() {
		if err := ctx.Destroy(); err != nil && result.Outcome != Fail {
			result.Outcome = Fail
			result.Detail = fmt.Sprintf("failed to destroy context: %v", err)
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			result.Outcome = Fail
			result.Detail = fmt.Sprintf("panic: %v", r)
		}
	}()

	err = c.fn(&environment{backend: backend, options: options, ctx: ctx})
	var skip *errSkip
	switch {
	case err == nil:
		result.Outcome = Pass
	case errors.As(err, &skip):
		result.Outcome = Skip
		result.Detail = skip.reason
	default:
		result.Outcome = Fail
		result.Detail = err.Error()
	}
	return
}

// exportKind returns the handle kind used by the checks: HandleFD if supported, otherwise the first supported kind.
func (env *environment) exportKind() (gpu.HandleKind, error) {
	caps := env.ctx.Capabilities()
	if caps.SupportsHandleKind(gpu.HandleFD) {
		return gpu.HandleFD, nil
	}
	kinds := caps.HandleKinds()
	if len(kinds) == 0 {
		return gpu.HandleNone, skipf("device doesn't support any handle kind")
	}
	return kinds[0], nil
}

// verifyExportedHandle checks that an exported handle is of the given kind, carries a non-null OS handle and
// covers at least size bytes.
func verifyExportedHandle(h *gpu.Handle, kind gpu.HandleKind, size uint64) error {
	if !h.IsValid() || h.Kind != kind {
		return errors.Errorf("export returned invalid %s", h)
	}
	if h.OSHandle == 0 {
		return errors.Errorf("exported %s has a null OS handle", h)
	}
	if h.Size < size {
		return errors.Errorf("exported %s is smaller than the %d bytes requested", h, size)
	}
	return nil
}

func checkExportFDBuffer(env *environment) error {
	if !env.ctx.Capabilities().SupportsHandleKind(gpu.HandleFD) {
		return skipf("device doesn't support %s handles", gpu.HandleFD)
	}
	buf, err := env.ctx.NewBuffer().WithSize(TransferSize).Exportable(gpu.HandleFD).Done()
	if err != nil {
		return errors.WithMessage(err, "failed to create exportable buffer")
	}
	h, err := buf.Export()
	if err != nil {
		return errors.WithMessagef(err, "failed to export %s", buf)
	}
	if err = verifyExportedHandle(h, gpu.HandleFD, TransferSize); err != nil {
		return err
	}
	if err = h.Close(); err != nil {
		return errors.WithMessagef(err, "failed to close %s", h)
	}
	return errors.WithMessagef(buf.Destroy(), "failed to destroy %s", buf)
}

func checkExportIdempotent(env *environment) error {
	kind, err := env.exportKind()
	if err != nil {
		return err
	}
	buf, err := env.ctx.NewBuffer().WithSize(TransferSize).Exportable(kind).Done()
	if err != nil {
		return errors.WithMessage(err, "failed to create exportable buffer")
	}
	var handles []*gpu.Handle
	defer func() {
		for _, h := range handles {
			_ = h.Close()
		}
	}()
	for range 2 {
		h, err := buf.Export()
		if err != nil {
			return errors.WithMessagef(err, "failed to export %s", buf)
		}
		handles = append(handles, h)
	}
	if handles[0].Kind != handles[1].Kind || handles[0].Size != handles[1].Size {
		return errors.Errorf("exports of the same resource differ: %s and %s", handles[0], handles[1])
	}
	return nil
}

func checkNotExportable(env *environment) error {
	buf, err := env.ctx.NewBuffer().WithSize(TransferSize).Done()
	if err != nil {
		return errors.WithMessage(err, "failed to create buffer")
	}
	h, err := buf.Export()
	if err == nil {
		_ = h.Close()
		return errors.Errorf("exporting %s created without handle kind should fail", buf)
	}
	if !gpu.IsKind(err, gpu.NotExportable) {
		return errors.Errorf("expected a %s error exporting %s, got %v", gpu.NotExportable, buf, err)
	}
	return nil
}

func checkUnsupportedHandleKind(env *environment) error {
	caps := env.ctx.Capabilities()
	unsupported := gpu.HandleNone
	for _, kind := range gpu.HandleKindValues() {
		if !caps.SupportsHandleKind(kind) {
			unsupported = kind
			break
		}
	}
	if unsupported == gpu.HandleNone {
		return skipf("device supports all handle kinds")
	}
	numResources := env.ctx.NumResources()
	buf, err := env.ctx.NewBuffer().WithSize(TransferSize).Exportable(unsupported).Done()
	if err == nil {
		_ = buf.Destroy()
		return errors.Errorf("creating a buffer exportable as unsupported %s should fail", unsupported)
	}
	if !gpu.IsKind(err, gpu.UnsupportedCapability) {
		return errors.Errorf("expected a %s error for %s, got %v", gpu.UnsupportedCapability, unsupported, err)
	}
	if env.ctx.NumResources() != numResources {
		return errors.Errorf("failed creation left a resource in the context")
	}
	return nil
}

func checkImportRoundTrip(env *environment) error {
	kind, err := env.exportKind()
	if err != nil {
		return err
	}
	other, err := env.backend.NewContext(env.options)
	if err != nil {
		return errors.WithMessage(err, "failed to create second context")
	}
	defer func() { _ = other.Destroy() }()

	hostMapped := env.ctx.Capabilities().SupportsHostMapping() && other.Capabilities().SupportsHostMapping()
	config := env.ctx.NewBuffer().WithSize(TransferSize).Exportable(kind)
	var pattern []byte
	if hostMapped {
		pattern = make([]byte, TransferSize)
		for ii := range pattern {
			pattern[ii] = byte(ii * 7)
		}
		config = config.WithData(pattern)
	}
	src, err := config.Done()
	if err != nil {
		return errors.WithMessage(err, "failed to create exportable buffer")
	}
	h, err := src.Export()
	if err != nil {
		return errors.WithMessagef(err, "failed to export %s", src)
	}
	importConfig := other.ImportBuffer(h).WithSize(TransferSize)
	if hostMapped {
		importConfig = importConfig.HostMapped()
	}
	dst, err := importConfig.Done()
	if err != nil {
		_ = h.Close()
		return errors.WithMessagef(err, "failed to import %s", h)
	}
	if h.IsValid() {
		return errors.Errorf("%s was not consumed by the import", h)
	}
	if dst.BackingSize() < src.Size() {
		return errors.Errorf("imported %s is smaller than exported %s", dst, src)
	}
	if hostMapped {
		got := make([]byte, TransferSize)
		if err = dst.ToHost(got); err != nil {
			return errors.WithMessagef(err, "failed to read imported %s", dst)
		}
		if !bytes.Equal(got, pattern) {
			return errors.Errorf("contents of imported %s differ from exported %s", dst, src)
		}
	}
	if err = dst.Destroy(); err != nil {
		return errors.WithMessagef(err, "failed to destroy imported %s", dst)
	}
	if !src.IsValid() {
		return errors.Errorf("destroying the imported resource invalidated the exported one")
	}
	return nil
}

func checkDestroyIdempotent(env *environment) error {
	buf, err := env.ctx.NewBuffer().WithSize(TransferSize).Done()
	if err != nil {
		return errors.WithMessage(err, "failed to create buffer")
	}
	if err = buf.Destroy(); err != nil {
		return errors.WithMessagef(err, "failed to destroy %s", buf)
	}
	if err = buf.Destroy(); err != nil {
		return errors.WithMessage(err, "second Destroy should be a no-op")
	}
	if env.ctx.NumResources() != 0 {
		return errors.Errorf("destroyed buffer still tracked by its context")
	}
	return nil
}
