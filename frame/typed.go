package frame

// Message type tags (spec §6 "Operation types (message_type constants)"
// and block sections). These are the values carried in a frame's
// message_type field.
const (
	TypeBlockHeader      uint16 = 1
	TypeBlockOperations  uint16 = 2
	TypeBlockSignatures  uint16 = 3
	TypePendingOperation uint16 = 4
	TypeChainSyncRequest uint16 = 5
	TypeChainSyncResp    uint16 = 6
	TypePendingSyncReq   uint16 = 7
	TypePendingSyncResp  uint16 = 8
)

// Typed binds a Frame to an expected message type: reading it yields
// ErrTypeMismatch if the tag doesn't match, instead of letting callers
// misinterpret the payload of the wrong kind of frame.
type Typed struct {
	Frame
	want uint16
}

// NewTyped parses a frame out of buf and checks its message type against
// want.
func NewTyped(buf []byte, want uint16) (Typed, error) {
	f, err := New(buf)
	if err != nil {
		return Typed{}, err
	}
	if f.MessageType() != want {
		return Typed{}, ErrTypeMismatch
	}
	return Typed{Frame: f, want: want}, nil
}
