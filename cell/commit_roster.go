package cell

import (
	"crypto/ed25519"
	"encoding/hex"

	"github.com/nodecell/datacell/cell/roster"
)

// CommitRoster adapts roster.Store to commit.Roster: a node's id is the
// hex encoding of its own public key (cell.Identity.NodeID), so resolving
// it back to a verification key is a decode, gated on actual cell
// membership so an unregistered node's self-claimed id is never trusted.
type CommitRoster struct {
	store *roster.Store
}

// NewCommitRoster wraps store for use as a commit.Roster.
func NewCommitRoster(store *roster.Store) CommitRoster { return CommitRoster{store: store} }

// PublicKey implements commit.Roster.
func (r CommitRoster) PublicKey(nodeID string) (ed25519.PublicKey, bool) {
	nodes, err := r.store.Nodes()
	if err != nil {
		return nil, false
	}
	member := false
	for _, n := range nodes {
		if n.NodeID == nodeID {
			member = true
			break
		}
	}
	if !member {
		return nil, false
	}
	pub, err := hex.DecodeString(nodeID)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return nil, false
	}
	return ed25519.PublicKey(pub), true
}

// Quorum returns the strict-majority threshold for the roster's current
// membership (including self, which the caller is expected to have added).
func (r CommitRoster) Quorum() (int, error) {
	nodes, err := r.store.Nodes()
	if err != nil {
		return 0, err
	}
	return len(nodes)/2 + 1, nil
}
