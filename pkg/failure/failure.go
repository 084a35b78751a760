// Package failure defines the tagged-variant failure causes shared across the
// simulated compute services, executors, and managers. A Cause is the single
// piece of information every job-completion failure event carries back to its
// submitter (see the JobManager event demultiplexer).
package failure

import "fmt"

// Kind distinguishes the category of a Cause.
type Kind string

const (
	NetworkError        Kind = "NetworkError"
	HostFailure          Kind = "HostFailure"
	JobTimeout           Kind = "JobTimeout"
	JobKilled            Kind = "JobKilled"
	ServiceDown          Kind = "ServiceDown"
	JobTypeNotSupported  Kind = "JobTypeNotSupported"
	NotEnoughResources   Kind = "NotEnoughResources"
	FileNotFound         Kind = "FileNotFound"
	StorageFull          Kind = "StorageFull"
	FatalFailure         Kind = "FatalFailure"
)

// Cause is an immutable, tagged failure value. It implements error so it can
// be wrapped with fmt.Errorf("...: %w", cause) at call sites that need Go
// error-handling idiom, while still letting callers switch on Kind.
type Cause struct {
	Kind    Kind
	Detail  string
	Host    string // host implicated, if any
	JobID   string // job implicated, if any
}

func (c *Cause) Error() string {
	switch {
	case c.Host != "" && c.JobID != "":
		return fmt.Sprintf("%s: %s (host=%s job=%s)", c.Kind, c.Detail, c.Host, c.JobID)
	case c.Host != "":
		return fmt.Sprintf("%s: %s (host=%s)", c.Kind, c.Detail, c.Host)
	case c.JobID != "":
		return fmt.Sprintf("%s: %s (job=%s)", c.Kind, c.Detail, c.JobID)
	default:
		return fmt.Sprintf("%s: %s", c.Kind, c.Detail)
	}
}

// New builds a Cause of the given kind with a formatted detail message.
func New(kind Kind, format string, args ...interface{}) *Cause {
	return &Cause{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// WithJob returns a copy of the cause annotated with a job id.
func (c *Cause) WithJob(jobID string) *Cause {
	cp := *c
	cp.JobID = jobID
	return &cp
}

// WithHost returns a copy of the cause annotated with a host name.
func (c *Cause) WithHost(host string) *Cause {
	cp := *c
	cp.Host = host
	return &cp
}

// Is lets errors.Is match two causes by Kind, so callers can write
// errors.Is(err, failure.New(failure.JobKilled, "")) in tests.
func (c *Cause) Is(target error) bool {
	other, ok := target.(*Cause)
	if !ok {
		return false
	}
	return c.Kind == other.Kind
}
