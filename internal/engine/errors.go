package engine

import "errors"

// Error kinds the recording engine itself can raise (device/permission
// errors are the internal/device sentinels, passed through unchanged;
// catalog-specific kinds live in internal/catalog).
var (
	ErrSessionNameInvalid = errors.New("engine: invalid session name")

	ErrAlreadyRecording  = errors.New("engine: already recording")
	ErrNotRecording      = errors.New("engine: not recording")
	ErrIllegalTransition = errors.New("engine: illegal state transition")

	ErrBlobWriteFailed     = errors.New("engine: blob write failed")
	ErrSessionStoreFailed  = errors.New("engine: session store failed")
	ErrRecoveryStoreFailed = errors.New("engine: recovery store failed")

	ErrEncoderFailed = errors.New("engine: encoder failed")
	ErrStopTimeout   = errors.New("engine: stop timed out")

	ErrNoRecoveryCheckpoint = errors.New("engine: no recovery checkpoint available")
)
