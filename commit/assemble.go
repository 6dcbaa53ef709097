package commit

import (
	"crypto/ed25519"

	"github.com/nodecell/datacell/chainstore"
	"github.com/nodecell/datacell/frame"
	"github.com/nodecell/datacell/pending"
)

// Roster resolves a node id to the public key used to verify its
// BlockSign operations (spec §4.6 step 4 "signature bytes verify against
// the node's public key").
type Roster interface {
	PublicKey(nodeID string) (ed25519.PublicKey, bool)
}

// ValidSignatureCount returns how many of v's signatures verify against
// roster and the header digest they claim to cover.
func ValidSignatureCount(v View, roster Roster, headerDigest []byte) int {
	valid := 0
	for _, s := range v.Signs {
		key, ok := roster.PublicKey(s.NodeID)
		if !ok {
			continue
		}
		verifier := frame.Ed25519Verifier{Key: key}
		if verifier.Verify(headerDigest, s.Signature) == nil {
			valid++
		}
	}
	return valid
}

// Commit implements spec §4.6 step 4: if v has >= quorum valid signatures,
// assemble (header, operations, signatures) into a block and write it.
// Returns (block, true, nil) on commit, (zero, false, nil) if quorum isn't
// yet reached.
func Commit(v View, pendingStore *pending.Store, chainStore *chainstore.Store, roster Roster, quorum int) (chainstore.Block, bool, error) {
	ops := make([]pending.Operation, 0, len(v.Proposal.OperationIDs))
	for _, id := range v.Proposal.OperationIDs {
		op, ok := pendingStore.Get(id)
		if !ok {
			return chainstore.Block{}, false, ErrMissingOperation
		}
		ops = append(ops, op)
	}
	payload, hash, err := operationsPayloadAndHash(ops)
	if err != nil {
		return chainstore.Block{}, false, err
	}

	header := chainstore.Header{
		Offset:              v.Proposal.Offset,
		Height:              v.Proposal.Height,
		PreviousOffset:      v.Proposal.PreviousOffset,
		PreviousHash:        v.Proposal.PreviousHash,
		OperationsHash:      hash,
		ProposedOperationID: v.Proposal.GroupID,
	}
	digest, err := headerDigest(header)
	if err != nil {
		return chainstore.Block{}, false, err
	}

	if ValidSignatureCount(v, roster, digest) < quorum {
		return chainstore.Block{}, false, nil
	}

	sigs := make([]chainstore.Signature, 0, len(v.Signs))
	for _, s := range v.Signs {
		sigs = append(sigs, chainstore.Signature{NodeID: s.NodeID, Signature: s.Signature})
	}

	block := chainstore.Block{Header: header, OperationsPayload: payload, Signatures: sigs}
	if _, err := chainStore.WriteBlock(block); err != nil {
		return chainstore.Block{}, false, err
	}
	return block, true, nil
}

// headerDigest is the content over which block signers sign: a SHA3-256
// multihash over the header fields, encoded with this package's 8-byte
// length prefixes (not chainstore's header frame encoding, and not the
// signatures-section hash chainstore uses to chain blocks together).
func headerDigest(h chainstore.Header) ([]byte, error) {
	s, err := frame.NewMultihashSigner(frame.CodeSHA3_256)
	if err != nil {
		return nil, err
	}
	buf := appendI64(nil, h.Offset)
	buf = appendU64(buf, h.Height)
	buf = appendI64(buf, h.PreviousOffset)
	buf = appendBytes(buf, h.PreviousHash)
	buf = appendBytes(buf, h.OperationsHash)
	buf = appendU64(buf, h.ProposedOperationID)
	if _, err := s.Write(buf); err != nil {
		return nil, err
	}
	return s.Sum()
}
