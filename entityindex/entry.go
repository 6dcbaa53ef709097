package entityindex

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// EntryKind distinguishes the three trait-level mutations an Entry
// operation can carry (spec §4.7 "Documents").
type EntryKind uint8

const (
	EntryPutTrait EntryKind = iota
	EntryTraitTombstone
	EntryEntityTombstone
)

// Entry is the decoded body of a TypeEntry pending operation — the "user
// payload" spec §3 leaves abstract. It self-describes its own
// operation_id/group_id, the same way commit's Proposal/Sign/Refuse
// payloads embed their group_id: a chain block's OperationsPayload only
// carries raw framed bytes, so an Entry read back out of a block has no
// other source for the ids it needs to index under.
type Entry struct {
	OperationID      uint64
	GroupID          uint64
	Kind             EntryKind
	EntityID         string
	TraitID          string // empty for EntryEntityTombstone
	TraitType        string // only for EntryPutTrait
	CreationDate     int64  // unix nanos, only for EntryPutTrait
	ModificationDate int64  // unix nanos, only for EntryPutTrait
	Text             []string
	Refs             []string
	Fields           map[string]string
}

// EncodeEntry renders e as the raw bytes that become a TypePendingOperation
// frame's message body.
func EncodeEntry(e Entry) []byte {
	buf := appendU64(nil, e.OperationID)
	buf = appendU64(buf, e.GroupID)
	buf = append(buf, byte(e.Kind))
	buf = appendString(buf, e.EntityID)
	buf = appendString(buf, e.TraitID)

	if e.Kind != EntryPutTrait {
		return buf
	}

	buf = appendString(buf, e.TraitType)
	buf = appendI64(buf, e.CreationDate)
	buf = appendI64(buf, e.ModificationDate)

	buf = appendU64(buf, uint64(len(e.Text)))
	for _, t := range e.Text {
		buf = appendString(buf, t)
	}
	buf = appendU64(buf, uint64(len(e.Refs)))
	for _, r := range e.Refs {
		buf = appendString(buf, r)
	}
	buf = appendU64(buf, uint64(len(e.Fields)))
	for k, v := range e.Fields {
		buf = appendString(buf, k)
		buf = appendString(buf, v)
	}
	return buf
}

// DecodeEntry parses an Entry from a TypePendingOperation frame's message
// data. It returns an error on any truncated or malformed buffer, which the
// caller treats as "not an Entry this index understands" — e.g. a
// PendingIgnore marker, which carries no payload of its own.
func DecodeEntry(b []byte) (Entry, error) {
	var e Entry
	var ok bool
	if e.OperationID, b, ok = takeU64(b); !ok {
		return Entry{}, errors.New("entityindex: truncated entry: operation_id")
	}
	if e.GroupID, b, ok = takeU64(b); !ok {
		return Entry{}, errors.New("entityindex: truncated entry: group_id")
	}
	if len(b) < 1 {
		return Entry{}, errors.New("entityindex: truncated entry: kind")
	}
	e.Kind = EntryKind(b[0])
	b = b[1:]
	var entityID, traitID string
	if entityID, b, ok = takeString(b); !ok {
		return Entry{}, errors.New("entityindex: truncated entry: entity_id")
	}
	e.EntityID = entityID
	if traitID, b, ok = takeString(b); !ok {
		return Entry{}, errors.New("entityindex: truncated entry: trait_id")
	}
	e.TraitID = traitID

	if e.Kind != EntryPutTrait {
		if e.Kind != EntryTraitTombstone && e.Kind != EntryEntityTombstone {
			return Entry{}, errors.Errorf("entityindex: unknown entry kind %d", e.Kind)
		}
		return e, nil
	}

	if e.TraitType, b, ok = takeString(b); !ok {
		return Entry{}, errors.New("entityindex: truncated entry: trait_type")
	}
	if e.CreationDate, b, ok = takeI64(b); !ok {
		return Entry{}, errors.New("entityindex: truncated entry: creation_date")
	}
	if e.ModificationDate, b, ok = takeI64(b); !ok {
		return Entry{}, errors.New("entityindex: truncated entry: modification_date")
	}

	var n uint64
	if n, b, ok = takeU64(b); !ok {
		return Entry{}, errors.New("entityindex: truncated entry: text count")
	}
	e.Text = make([]string, n)
	for i := range e.Text {
		if e.Text[i], b, ok = takeString(b); !ok {
			return Entry{}, errors.New("entityindex: truncated entry: text")
		}
	}
	if n, b, ok = takeU64(b); !ok {
		return Entry{}, errors.New("entityindex: truncated entry: refs count")
	}
	e.Refs = make([]string, n)
	for i := range e.Refs {
		if e.Refs[i], b, ok = takeString(b); !ok {
			return Entry{}, errors.New("entityindex: truncated entry: refs")
		}
	}
	if n, b, ok = takeU64(b); !ok {
		return Entry{}, errors.New("entityindex: truncated entry: fields count")
	}
	e.Fields = make(map[string]string, n)
	for i := uint64(0); i < n; i++ {
		var k, v string
		if k, b, ok = takeString(b); !ok {
			return Entry{}, errors.New("entityindex: truncated entry: field key")
		}
		if v, b, ok = takeString(b); !ok {
			return Entry{}, errors.New("entityindex: truncated entry: field value")
		}
		e.Fields[k] = v
	}
	return e, nil
}

func appendU64(b []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(b, tmp[:]...)
}

func appendI64(b []byte, v int64) []byte { return appendU64(b, uint64(v)) }

func appendString(b []byte, v string) []byte {
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

func takeString(b []byte) (string, []byte, bool) {
	n, b, ok := takeU64(b)
	if !ok || uint64(len(b)) < n {
		return "", b, false
	}
	return string(b[:n]), b[n:], true
}
