// Package preflight verifies provider permissions before a job starts
// moving data, so a missing grant fails the job in seconds instead of after
// a long staging phase.
package preflight

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/3leaps/procctl/pkg/provider"
)

// Mode defines how aggressive preflight checks are.
type Mode string

const (
	// ModeOff skips every check.
	ModeOff Mode = "off"

	// ModeReadSafe lists and reads the source without writing anywhere.
	ModeReadSafe Mode = "read-safe"

	// ModeWriteProbe additionally writes and deletes a probe object at the
	// destination.
	ModeWriteProbe Mode = "write-probe"
)

// ParseMode parses a mode name; "" yields ModeReadSafe.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeReadSafe, nil
	case ModeOff, ModeReadSafe, ModeWriteProbe:
		return m, nil
	default:
		return "", fmt.Errorf("unknown preflight mode %q (want off, read-safe or write-probe)", s)
	}
}

// Capability names are stable strings used in reports and logs.
const (
	CapSourceList  = "source.list"
	CapSourceRead  = "source.read"
	CapTargetWrite = "target.write"
)

// Error codes attached to denied checks.
const (
	CodeAccessDenied = "ACCESS_DENIED"
	CodeNotFound     = "NOT_FOUND"
	CodeThrottled    = "THROTTLED"
	CodeUnavailable  = "UNAVAILABLE"
	CodeUnsupported  = "UNSUPPORTED"
	CodeInternal     = "INTERNAL"
)

// Result is the outcome of one capability check.
type Result struct {
	Capability string `json:"capability"`
	Allowed    bool   `json:"allowed"`
	Method     string `json:"method"`
	ErrorCode  string `json:"error_code,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

// Report lists the checks run, in order.
type Report struct {
	Mode    Mode     `json:"mode"`
	Results []Result `json:"results"`
}

// Error is returned for the first denied check.
type Error struct {
	Result Result
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("preflight %s denied (%s): %v", e.Result.Capability, e.Result.ErrorCode, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Spec controls which checks run and where.
type Spec struct {
	Mode Mode

	// SourcePrefix is listed and used for the read probe.
	SourcePrefix string

	// ProbePrefix is where the write probe object is created.
	ProbePrefix string
}

// Run checks src (and dst for ModeWriteProbe). Checks run fail-fast in the
// order target write, source list, source read. dst may be nil unless the
// mode is ModeWriteProbe.
func Run(ctx context.Context, src, dst provider.Provider, spec Spec) (*Report, error) {
	rep := &Report{Mode: spec.Mode, Results: []Result{}}
	if spec.Mode == ModeOff {
		return rep, nil
	}
	if err := ctx.Err(); err != nil {
		return rep, err
	}

	if spec.Mode == ModeWriteProbe {
		if err := rep.check(CapTargetWrite, "PutObject+DeleteObject(random)", writeProbe(ctx, dst, spec.ProbePrefix)); err != nil {
			return rep, err
		}
	}

	method := fmt.Sprintf("List(prefix=%q,maxKeys=1)", spec.SourcePrefix)
	_, err := src.List(ctx, provider.ListOptions{Prefix: spec.SourcePrefix, MaxKeys: 1})
	if err := rep.check(CapSourceList, method, err); err != nil {
		return rep, err
	}

	getter, ok := src.(provider.ObjectGetter)
	if !ok {
		return rep, rep.check(CapSourceRead, "GetObject(random)", fmt.Errorf("source: %w", provider.ErrUnsupported))
	}
	body, _, err := getter.GetObject(ctx, joinPrefix(spec.SourcePrefix, ".procctl-preflight-"+uuid.NewString()))
	if err == nil {
		_ = body.Close()
	}
	if errors.Is(err, provider.ErrNotFound) {
		err = nil
	}
	if err := rep.check(CapSourceRead, "GetObject(random)", err); err != nil {
		return rep, err
	}
	return rep, nil
}

func (r *Report) check(capability, method string, err error) error {
	res := Result{Capability: capability, Method: method, Allowed: err == nil}
	if err != nil {
		res.ErrorCode = ErrorCode(err)
		res.Detail = err.Error()
	}
	r.Results = append(r.Results, res)
	if err != nil {
		return &Error{Result: res, Err: err}
	}
	return nil
}

func writeProbe(ctx context.Context, dst provider.Provider, prefix string) error {
	if dst == nil {
		return fmt.Errorf("destination: %w", provider.ErrUnsupported)
	}
	putter, ok := dst.(provider.ObjectPutter)
	if !ok {
		return fmt.Errorf("destination put: %w", provider.ErrUnsupported)
	}
	deleter, ok := dst.(provider.ObjectDeleter)
	if !ok {
		return fmt.Errorf("destination delete: %w", provider.ErrUnsupported)
	}

	key := joinPrefix(prefix, ".procctl-probe-"+uuid.NewString())
	if err := putter.PutObject(ctx, key, strings.NewReader(""), 0); err != nil {
		return err
	}
	return deleter.DeleteObject(ctx, key)
}

// ErrorCode maps provider errors to a stable code.
func ErrorCode(err error) string {
	switch provider.Classify(err) {
	case provider.KindAccess:
		return CodeAccessDenied
	case provider.KindNotFound:
		return CodeNotFound
	case provider.KindThrottled:
		return CodeThrottled
	case provider.KindUnavailable:
		return CodeUnavailable
	case provider.KindUnsupported:
		return CodeUnsupported
	default:
		return CodeInternal
	}
}

func joinPrefix(prefix, suffix string) string {
	if prefix == "" || strings.HasSuffix(prefix, "/") {
		return prefix + suffix
	}
	return prefix + "/" + suffix
}
