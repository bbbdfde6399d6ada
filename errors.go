package buckal

import "errors"

var (
	// ErrConfiguration is wrapped by errors caused by the resolved graph or the project setup
	// rather than by the environment: a package without a required target, a links dependency
	// without a build script, an unparsable platform predicate.  Retrying will not help.
	ErrConfiguration = errors.New("configuration error")

	// ErrSubprocess is wrapped by errors from external tools (cargo, rustc, buck2).  The wrapped
	// error carries the tool's own diagnostics.
	ErrSubprocess = errors.New("subprocess failed")
)
