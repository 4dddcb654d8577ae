package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrProtoVersion    = "E_PROTO_VERSION"

	// Book state.
	ErrBadRequest       = "E_BAD_REQUEST"
	ErrNoPermission     = "E_NO_PERMISSION"
	ErrNotFound         = "E_NOT_FOUND"
	ErrCreationDisabled = "E_CREATION_DISABLED"
	ErrRandomness       = "E_RANDOMNESS_UNAVAILABLE"
	ErrExhausted        = "E_EXHAUSTED"
	ErrUnknownRequest   = "E_UNKNOWN_REQUEST"
	ErrNotRendered      = "E_NOT_RENDERED"
	ErrConflict         = "E_CONFLICT"
	ErrBusy             = "E_BUSY"
	ErrInternal         = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest:  {},
	ErrProtoVersion:     {},
	ErrBadRequest:       {},
	ErrNoPermission:     {},
	ErrNotFound:         {},
	ErrCreationDisabled: {},
	ErrRandomness:       {},
	ErrExhausted:        {},
	ErrUnknownRequest:   {},
	ErrNotRendered:      {},
	ErrConflict:         {},
	ErrBusy:             {},
	ErrInternal:         {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
