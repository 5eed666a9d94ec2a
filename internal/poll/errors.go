package poll

import "errors"

// ErrRestartRequested is returned by Run when the device-pass counter
// reaches the restart ceiling. The caller is expected to rebuild the
// scheduler and start it again.
var ErrRestartRequested = errors.New("poll: restart requested")
