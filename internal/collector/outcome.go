package collector

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	utilnet "k8s.io/apimachinery/pkg/util/net"
)

// Reason classifies why a catalog entry could not be fetched.
type Reason string

const (
	ReasonNotFound  Reason = "NotFound"
	ReasonForbidden Reason = "Forbidden"
	ReasonTransient Reason = "Transient"
	ReasonCancelled Reason = "Cancelled"
	ReasonUnknown   Reason = "Unknown"
)

// FetchError is the recorded failure of a single catalog entry.
type FetchError struct {
	Key     string `json:"key"`
	Reason  Reason `json:"reason"`
	Message string `json:"message"`

	err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s: %s", e.Key, e.Message)
}

func (e *FetchError) Unwrap() error {
	return e.err
}

// NewFetchError wraps err as the failure of the entry named key.
func NewFetchError(key string, err error) *FetchError {
	return &FetchError{Key: key, Reason: Classify(err), Message: err.Error(), err: err}
}

// Classify maps an error onto a Reason.
func Classify(err error) Reason {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound), apierrors.IsNotFound(err):
		return ReasonNotFound
	case apierrors.IsForbidden(err), apierrors.IsUnauthorized(err):
		return ReasonForbidden
	case errors.Is(err, context.Canceled):
		return ReasonCancelled
	case errors.Is(err, context.DeadlineExceeded),
		apierrors.IsTimeout(err),
		apierrors.IsServerTimeout(err),
		apierrors.IsTooManyRequests(err),
		apierrors.IsServiceUnavailable(err),
		utilnet.IsConnectionRefused(err),
		utilnet.IsConnectionReset(err),
		utilnet.IsProbableEOF(err):
		return ReasonTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ReasonTransient
	}
	return ReasonUnknown
}

// Outcome is the result of one catalog entry: exactly one of Value and Err is set.
type Outcome struct {
	Key      string
	Value    any
	Err      *FetchError
	Duration time.Duration
}

// OK reports whether the entry was fetched.
func (o Outcome) OK() bool {
	return o.Err == nil
}

// Result holds one outcome per catalog entry, in catalog order.
type Result struct {
	Namespace  string
	Outcomes   []Outcome
	StartedAt  time.Time
	FinishedAt time.Time
}

// Keys returns the outcome keys in order.
func (r *Result) Keys() []string {
	keys := make([]string, len(r.Outcomes))
	for i, o := range r.Outcomes {
		keys[i] = o.Key
	}
	return keys
}

// Get returns the outcome for key.
func (r *Result) Get(key string) (Outcome, bool) {
	for _, o := range r.Outcomes {
		if o.Key == key {
			return o, true
		}
	}
	return Outcome{}, false
}

// Failures returns the recorded fetch errors in catalog order.
func (r *Result) Failures() []*FetchError {
	var failures []*FetchError
	for _, o := range r.Outcomes {
		if o.Err != nil {
			failures = append(failures, o.Err)
		}
	}
	return failures
}

// Summary counts the outcomes by status.
type Summary struct {
	Namespace string         `json:"namespace"`
	Total     int            `json:"total"`
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
	Reasons   map[Reason]int `json:"reasons,omitempty"`
	Duration  string         `json:"duration"`
	Failures  []*FetchError  `json:"failures,omitempty"`
}

// Summarize reports how the run went.
func (r *Result) Summarize() Summary {
	s := Summary{
		Namespace: r.Namespace,
		Total:     len(r.Outcomes),
		Duration:  r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String(),
		Failures:  r.Failures(),
	}
	for _, f := range s.Failures {
		if s.Reasons == nil {
			s.Reasons = make(map[Reason]int)
		}
		s.Reasons[f.Reason]++
	}
	s.Failed = len(s.Failures)
	s.Succeeded = s.Total - s.Failed
	return s
}
