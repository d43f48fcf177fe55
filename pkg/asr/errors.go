package asr

import (
	"errors"
	"fmt"
	"net/http"
)

// Failure taxonomy shared by every adapter. Callers classify with the Is*
// helpers instead of matching vendor error strings.
var (
	// ErrAuth means the vendor rejected our credentials. Fatal for the current
	// job; never retried.
	ErrAuth = errors.New("asr: authentication rejected")

	// ErrQuotaExceeded means the vendor refused work due to rate or usage
	// limits. Fatal for the current job; the transcript accumulated so far
	// must be preserved by the caller.
	ErrQuotaExceeded = errors.New("asr: quota exceeded")

	// ErrTooShortAudio means the submitted segment is below the vendor's
	// minimum usable duration. Expected and benign; callers skip and continue.
	ErrTooShortAudio = errors.New("asr: audio too short")

	// ErrTimeout means the bounded wait for a batch result elapsed. Classified
	// as transient: the caller may continue with the next unit of work.
	ErrTimeout = errors.New("asr: result wait timed out")
)

// TransientError wraps a failure that is local to one unit of work. A batch
// pipeline logs it and moves to the next chunk; a streaming session ends but
// the accumulated text is still persisted.
type TransientError struct {
	// Op names the adapter operation that failed (e.g. "assemblyai: poll").
	Op string

	// Err is the underlying cause.
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("asr: transient failure in %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as a TransientError. Returns nil when err is nil.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Op: op, Err: err}
}

// IsAuth reports whether err is an authentication failure.
func IsAuth(err error) bool { return errors.Is(err, ErrAuth) }

// IsQuota reports whether err is a quota/rate-limit failure.
func IsQuota(err error) bool { return errors.Is(err, ErrQuotaExceeded) }

// IsTooShort reports whether err means the audio was below the usable floor.
func IsTooShort(err error) bool { return errors.Is(err, ErrTooShortAudio) }

// IsTimeout reports whether err is a bounded-wait expiry.
func IsTimeout(err error) bool { return errors.Is(err, ErrTimeout) }

// IsTransient reports whether the caller may continue with the next unit of
// work after err. Timeouts count as transient; auth and quota failures do not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if IsAuth(err) || IsQuota(err) || IsTooShort(err) {
		return false
	}
	var te *TransientError
	return errors.As(err, &te) || IsTimeout(err)
}

// ClassifyHTTPStatus maps a vendor HTTP status to the taxonomy. The body
// excerpt is carried for logs only; callers must not branch on it.
func ClassifyHTTPStatus(op string, status int, body string) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%s: http %d: %s: %w", op, status, body, ErrAuth)
	case status == http.StatusTooManyRequests || status == http.StatusPaymentRequired:
		return fmt.Errorf("%s: http %d: %s: %w", op, status, body, ErrQuotaExceeded)
	case status >= 500:
		return Transient(op, fmt.Errorf("http %d: %s", status, body))
	default:
		return Transient(op, fmt.Errorf("unexpected http %d: %s", status, body))
	}
}
