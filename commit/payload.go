package commit

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Proposal is the decoded payload of a BlockPropose pending operation: the
// block it proposes, plus the sorted operation_ids that make up its
// operations payload (spec §4.6 step 5).
type Proposal struct {
	GroupID             uint64 // == the BlockPropose operation's own operation_id
	Offset              int64
	Height              uint64
	PreviousOffset      int64
	PreviousHash        []byte
	OperationsHash      []byte
	ProposedOperationID uint64
	OperationIDs        []uint64
}

// Sign is the decoded payload of a BlockSign pending operation: one node's
// signature over the proposal's header digest.
type Sign struct {
	GroupID   uint64
	NodeID    string
	Signature []byte
}

// Refuse is the decoded payload of a BlockRefuse pending operation.
type Refuse struct {
	GroupID uint64
	NodeID  string
}

func EncodeProposal(p Proposal) []byte {
	buf := appendU64(nil, p.GroupID)
	buf = appendI64(buf, p.Offset)
	buf = appendU64(buf, p.Height)
	buf = appendI64(buf, p.PreviousOffset)
	buf = appendBytes(buf, p.PreviousHash)
	buf = appendBytes(buf, p.OperationsHash)
	buf = appendU64(buf, p.ProposedOperationID)
	buf = appendU64(buf, uint64(len(p.OperationIDs)))
	for _, id := range p.OperationIDs {
		buf = appendU64(buf, id)
	}
	return buf
}

func DecodeProposal(b []byte) (Proposal, error) {
	var p Proposal
	var ok bool
	if p.GroupID, b, ok = takeU64(b); !ok {
		return Proposal{}, errors.New("commit: truncated proposal: group_id")
	}
	if p.Offset, b, ok = takeI64(b); !ok {
		return Proposal{}, errors.New("commit: truncated proposal: offset")
	}
	if p.Height, b, ok = takeU64(b); !ok {
		return Proposal{}, errors.New("commit: truncated proposal: height")
	}
	if p.PreviousOffset, b, ok = takeI64(b); !ok {
		return Proposal{}, errors.New("commit: truncated proposal: previous_offset")
	}
	if p.PreviousHash, b, ok = takeBytes(b); !ok {
		return Proposal{}, errors.New("commit: truncated proposal: previous_hash")
	}
	if p.OperationsHash, b, ok = takeBytes(b); !ok {
		return Proposal{}, errors.New("commit: truncated proposal: operations_hash")
	}
	if p.ProposedOperationID, b, ok = takeU64(b); !ok {
		return Proposal{}, errors.New("commit: truncated proposal: proposed_operation_id")
	}
	var count uint64
	if count, b, ok = takeU64(b); !ok {
		return Proposal{}, errors.New("commit: truncated proposal: operation_ids count")
	}
	p.OperationIDs = make([]uint64, count)
	for i := range p.OperationIDs {
		if p.OperationIDs[i], b, ok = takeU64(b); !ok {
			return Proposal{}, errors.New("commit: truncated proposal: operation_ids")
		}
	}
	return p, nil
}

func EncodeSign(s Sign) []byte {
	buf := appendU64(nil, s.GroupID)
	buf = appendBytes(buf, []byte(s.NodeID))
	return appendBytes(buf, s.Signature)
}

func DecodeSign(b []byte) (Sign, error) {
	var s Sign
	var ok bool
	var nodeID []byte
	if s.GroupID, b, ok = takeU64(b); !ok {
		return Sign{}, errors.New("commit: truncated sign: group_id")
	}
	if nodeID, b, ok = takeBytes(b); !ok {
		return Sign{}, errors.New("commit: truncated sign: node_id")
	}
	s.NodeID = string(nodeID)
	if s.Signature, b, ok = takeBytes(b); !ok {
		return Sign{}, errors.New("commit: truncated sign: signature")
	}
	return s, nil
}

func EncodeRefuse(r Refuse) []byte {
	buf := appendU64(nil, r.GroupID)
	return appendBytes(buf, []byte(r.NodeID))
}

func DecodeRefuse(b []byte) (Refuse, error) {
	var r Refuse
	var ok bool
	var nodeID []byte
	if r.GroupID, b, ok = takeU64(b); !ok {
		return Refuse{}, errors.New("commit: truncated refuse: group_id")
	}
	if nodeID, b, ok = takeBytes(b); !ok {
		return Refuse{}, errors.New("commit: truncated refuse: node_id")
	}
	r.NodeID = string(nodeID)
	return r, nil
}

func appendU64(b []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(b, tmp[:]...)
}

func appendI64(b []byte, v int64) []byte { return appendU64(b, uint64(v)) }

func appendBytes(b, v []byte) []byte {
	b = appendU64(b, uint64(len(v)))
	return append(b, v...)
}

func takeU64(b []byte) (uint64, []byte, bool) {
	if len(b) < 8 {
		return 0, b, false
	}
	return binary.LittleEndian.Uint64(b[:8]), b[8:], true
}

func takeI64(b []byte) (int64, []byte, bool) {
	v, rest, ok := takeU64(b)
	return int64(v), rest, ok
}

func takeBytes(b []byte) ([]byte, []byte, bool) {
	n, b, ok := takeU64(b)
	if !ok || uint64(len(b)) < n {
		return nil, b, false
	}
	return b[:n], b[n:], true
}
