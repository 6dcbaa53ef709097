// Command cellkey generates (or inspects) the ed25519 identity a cell node
// signs its frames with, the spec §6-named node identity, adapted from
// cmd/key/key.go's hex-decode-then-print key handling.
package main

import (
	"encoding/hex"
	"flag"

	"github.com/sirupsen/logrus"

	"github.com/nodecell/datacell/cell"
)

func main() {
	var seed = flag.String("seed", "", "hex-encoded private key to load instead of generating a fresh one")
	flag.Parse()

	var (
		id  cell.Identity
		err error
	)
	if *seed != "" {
		id, err = cell.IdentityFromSeed(*seed)
	} else {
		id, err = cell.NewIdentity()
	}
	if err != nil {
		logrus.WithError(err).Fatal("loading identity")
	}

	logrus.WithFields(logrus.Fields{
		"node_id": id.NodeID(),
		"private": hex.EncodeToString(id.Private),
	}).Info("cell identity")
}
