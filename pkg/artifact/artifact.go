// Package artifact describes the outcome of generating one derived file
// (thumbnail or metadata) for a test-run directory.
package artifact

// Kind identifies which derived file a Result refers to.
type Kind string

const (
	KindThumbnail Kind = "thumbnail"
	KindMetadata  Kind = "metadata"
)

// Status is the outcome of a single generation attempt.
type Status string

const (
	// StatusGenerated means the artifact was (re)written during this call.
	StatusGenerated Status = "generated"
	// StatusExisting means the artifact was already present and left untouched.
	StatusExisting Status = "existing"
	// StatusSkipped means there was no input to derive the artifact from.
	StatusSkipped Status = "skipped"
	// StatusDegraded means the artifact was written but an optional step
	// (compression) failed.
	StatusDegraded Status = "degraded"
	// StatusFailed means no artifact was produced because of an error.
	StatusFailed Status = "failed"
)

// Statuses lists every Status, in reporting order.
var Statuses = []Status{
	StatusGenerated,
	StatusExisting,
	StatusSkipped,
	StatusDegraded,
	StatusFailed,
}

// Result is the outcome of one generation attempt. Path is empty when no
// artifact is present after the call.
type Result struct {
	Kind   Kind
	Path   string
	Status Status
	Err    error
}

// Present reports whether the artifact file exists after the call.
func (r Result) Present() bool {
	return r.Path != ""
}
