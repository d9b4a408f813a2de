package errors

import "errors"

// Registry errors. These are local precondition violations and are never
// retried.
var (
	ErrDuplicateName      = errors.New("folder already exists")
	ErrUnknownFolder      = errors.New("folder not found")
	ErrInvalidName        = errors.New("invalid folder name")
	ErrInvalidPath        = errors.New("invalid file path")
	ErrRemoteNameConflict = errors.New("remote name already used in folder")
	ErrUnsupportedSchema  = errors.New("unsupported settings schema version")
)

// Run errors.
var (
	ErrAuthentication = errors.New("authentication failed")
	ErrEmptyFolder    = errors.New("folder has nothing to upload")
	ErrCancelled      = errors.New("run cancelled")
)

// Remote/transport errors.
var (
	ErrRemoteService = errors.New("remote service error")
	ErrTimeout       = errors.New("remote call timed out")
)

// ErrSkippedMissingLocalFile marks a warning, not a failure: the entry
// is left out of the plan and the run continues.
var ErrSkippedMissingLocalFile = errors.New("local file missing, skipped")
