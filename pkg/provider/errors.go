package provider

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound            = errors.New("object not found")
	ErrBucketNotFound      = errors.New("bucket not found")
	ErrAccessDenied        = errors.New("access denied")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrThrottled           = errors.New("request throttled")
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrUnsupported         = errors.New("operation not supported by provider")
	ErrInvalidURI          = errors.New("invalid location uri")
)

// Kind groups provider failures by what a caller can do about them.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindAccess
	KindThrottled
	KindUnavailable
	KindUnsupported
	KindInvalid
)

var kindNames = map[Kind]string{
	KindUnknown:     "unknown",
	KindNotFound:    "not_found",
	KindAccess:      "access",
	KindThrottled:   "throttled",
	KindUnavailable: "unavailable",
	KindUnsupported: "unsupported",
	KindInvalid:     "invalid",
}

func (k Kind) String() string { return kindNames[k] }

// Retryable reports whether the same call may succeed later.
func (k Kind) Retryable() bool { return k == KindThrottled || k == KindUnavailable }

var kindOf = []struct {
	err  error
	kind Kind
}{
	{ErrNotFound, KindNotFound},
	{ErrBucketNotFound, KindNotFound},
	{ErrAccessDenied, KindAccess},
	{ErrInvalidCredentials, KindAccess},
	{ErrThrottled, KindThrottled},
	{ErrProviderUnavailable, KindUnavailable},
	{ErrUnsupported, KindUnsupported},
	{ErrInvalidURI, KindInvalid},
}

// Classify maps err onto a Kind by the sentinel it wraps.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	for _, k := range kindOf {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindUnknown
}

// IsNotFound reports a missing object or bucket.
func IsNotFound(err error) bool { return Classify(err) == KindNotFound }

// IsAccessDenied reports a permission or credential failure.
func IsAccessDenied(err error) bool { return Classify(err) == KindAccess }

// ProviderError records which operation on which object failed.
type ProviderError struct {
	Op       string
	Provider ProviderType
	Bucket   string
	Key      string
	Err      error
}

func (e *ProviderError) Error() string {
	target := strings.TrimSuffix(e.Bucket+"/"+e.Key, "/")
	if target == "" {
		return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s %s: %v", e.Provider, e.Op, target, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }
