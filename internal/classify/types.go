// Package classify submits evidence artifacts to the remote classification
// workflow and parses its verdicts. The remote protocol is two HTTP calls:
// a multipart file upload returning an opaque reference id, then a blocking
// workflow invocation referencing that id. Response payloads vary across
// provider versions, so parsing is deliberately defensive.
package classify

import (
	"fmt"
	"time"
)

// Decision is the classifier's binary outcome for one artifact.
type Decision string

const (
	DecisionPhishing Decision = "phishing"
	DecisionSafe     Decision = "safe"
)

// Verdict is the classifier's structured decision for one artifact.
// Immutable after creation.
type Verdict struct {
	Decision    Decision
	Confidence  float64
	Explanation string

	// Workflow accounting reported by the remote service.
	TotalTokens int
	TotalSteps  int

	// UploadDuration covers the multipart upload; ProcessingDuration is the
	// remote workflow's self-reported elapsed time.
	UploadDuration     time.Duration
	ProcessingDuration time.Duration
}

// UploadError reports a failed artifact upload. The artifact is discarded,
// never retried.
type UploadError struct {
	StatusCode int
	Cause      error
}

func (e *UploadError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("classify: upload failed: %v", e.Cause)
	}
	return fmt.Sprintf("classify: upload failed with status %d", e.StatusCode)
}

func (e *UploadError) Unwrap() error { return e.Cause }

// InvokeError reports a failed workflow invocation.
type InvokeError struct {
	StatusCode int
	Cause      error
}

func (e *InvokeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("classify: invoke failed: %v", e.Cause)
	}
	return fmt.Sprintf("classify: invoke failed with status %d", e.StatusCode)
}

func (e *InvokeError) Unwrap() error { return e.Cause }

// ParseError reports a workflow response that could not be interpreted as a
// verdict.
type ParseError struct {
	Reason string
	Cause  error
}

func (e *ParseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("classify: parse response: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("classify: parse response: %s", e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Cause }
