package cell

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/pkg/errors"
	"golang.org/x/crypto/ed25519"
)

// Identity is a node's keypair, grounded on the teacher's
// chain/txvm/crypto/ed25519 fork (cmd/key/key.go) — here the upstream
// golang.org/x/crypto/ed25519 forwarding package, already a dependency of
// the teacher.
type Identity struct {
	Private ed25519.PrivateKey
	Public  ed25519.PublicKey
}

// NewIdentity generates a fresh keypair.
func NewIdentity() (Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return Identity{}, errors.Wrap(err, "cell: generating keypair")
	}
	return Identity{Private: priv, Public: pub}, nil
}

// IdentityFromSeed reconstructs an Identity from a hex-encoded private key,
// mirroring cmd/key/key.go's literal hex-decode-then-wrap pattern.
func IdentityFromSeed(hexSeed string) (Identity, error) {
	b, err := hex.DecodeString(hexSeed)
	if err != nil {
		return Identity{}, errors.Wrap(err, "cell: decoding key hex")
	}
	priv := ed25519.PrivateKey(b)
	pub, ok := priv.Public().(ed25519.PublicKey)
	if !ok {
		return Identity{}, errors.New("cell: malformed private key")
	}
	return Identity{Private: priv, Public: pub}, nil
}

// NodeID is the node identifier used throughout chainsync/commit/pendingsync
// — the hex-encoded public key, stable and self-verifying.
func (id Identity) NodeID() string { return hex.EncodeToString(id.Public) }

// Sign produces the signature commit.Config.Sign needs over a header
// digest.
func (id Identity) Sign(digest []byte) []byte { return ed25519.Sign(id.Private, digest) }

// Verify checks sig against digest for the peer identified by nodeID's
// hex-encoded public key.
func Verify(nodeID string, digest, sig []byte) bool {
	pub, err := hex.DecodeString(nodeID)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), digest, sig)
}
