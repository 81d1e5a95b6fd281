package pipeline

import "errors"

// Failure kinds of the pipeline steps, matched with errors.Is.
var (
	ErrCrawl   = errors.New("crawl failed")
	ErrAI      = errors.New("rewrite failed")
	ErrSanity  = errors.New("sanity check failed")
	ErrPublish = errors.New("publish failed")
)

// errDuplicate ends a run as SKIPPED_DUPLICATE.
var errDuplicate = errors.New("duplicate content")

// StepError is a failed pipeline step. It matches both its Kind and the
// underlying error.
type StepError struct {
	Step string
	Kind error
	Err  error
}

func (e *StepError) Error() string {
	return e.Step + ": " + e.Err.Error()
}

func (e *StepError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}
