package cell

import (
	"context"

	"github.com/nodecell/datacell/chainsync"
	"github.com/nodecell/datacell/pendingsync"
)

// Transport is the peer-messaging collaborator spec §6 describes as wire
// messages without specifying how they move between nodes — out of scope
// per spec.md §1 ("transport ... out of scope"). The engine depends on this
// interface and drives it every tick; this repository supplies no
// implementation.
type Transport interface {
	ChainSync(ctx context.Context, peerID string, req chainsync.Request) (chainsync.Response, error)
	PendingSync(ctx context.Context, peerID string, msg pendingsync.Message) (pendingsync.Message, error)
}

// Discovery supplies the set of peer ids a cell should maintain sync state
// for — also out of scope per spec.md §1 ("discovery ... out of scope").
type Discovery interface {
	Peers() []string
}
