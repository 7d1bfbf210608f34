package attack

import "errors"

// ErrUserSpawnFailed is returned when a step's live user count still
// doesn't match its target after maxSpawnRetries retries (spec 4.2:
// "retried up to N times (default 3) then abort with UserSpawnFailed").
var ErrUserSpawnFailed = errors.New("attack: user spawn failed")
