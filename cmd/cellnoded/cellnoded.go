// Command cellnoded runs one data-cell node: it owns the chain store,
// pending store, and entity index, drives the engine's tick loop on a
// timer, and serves a small HTTP query/submission API, adapted from
// cmd/slidechaind/slidechaind.go's flag-driven main opening a sqlite db
// and serving custodian HTTP handlers.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nodecell/datacell/cell"
	"github.com/nodecell/datacell/cell/httputil"
	"github.com/nodecell/datacell/cell/roster"
	"github.com/nodecell/datacell/chainstore"
	"github.com/nodecell/datacell/chainsync"
	"github.com/nodecell/datacell/engine"
	"github.com/nodecell/datacell/entityindex"
	"github.com/nodecell/datacell/mutationindex"
	"github.com/nodecell/datacell/pending"
	"github.com/nodecell/datacell/pendingsync"
)

func main() {
	var (
		addr      = flag.String("addr", "localhost:2423", "server listen address")
		chainDir  = flag.String("chaindir", "cell-chain", "directory holding the append-only chain segments")
		indexDir  = flag.String("indexdir", "cell-index", "directory holding the durable chain mutation index")
		rosterDB  = flag.String("roster", "cell-roster.db", "path to the roster sqlite database")
		seed      = flag.String("seed", "", "hex-encoded private key to load instead of generating a fresh one")
		tickEvery = flag.Duration("tick", time.Second, "interval between engine ticks")
	)
	flag.Parse()

	log := logrus.WithField("component", "cellnoded")

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
		log.WithError(err).Fatal("loading identity")
	}

	rosterStore, err := roster.Open(*rosterDB)
	if err != nil {
		log.WithError(err).Fatal("opening roster")
	}
	defer rosterStore.Close()
	if err := rosterStore.AddNode(id.NodeID(), *addr); err != nil {
		log.WithError(err).Fatal("registering self in roster")
	}

	cfg := cell.New()

	pendingStore := pending.New()
	chainStore, err := chainstore.OpenOrInit(*chainDir, chainstore.WithSegmentMaxSize(cfg.SegmentMaxSize), chainstore.WithSegmentOverAllocateSize(cfg.SegmentOverAllocateSize))
	if err != nil {
		log.WithError(err).Fatal("opening chain store")
	}
	defer chainStore.Close()

	entityIdx, err := entityindex.Open(*indexDir, pendingStore, chainStore, entityindex.Config{
		ChainIndexMinDepth:       cfg.ChainIndexMinDepth,
		EntityMutationsCacheSize: cfg.EntityMutationsCacheSize,
	})
	if err != nil {
		log.WithError(err).Fatal("opening entity index")
	}
	defer entityIdx.Close()
	commitRoster := cell.NewCommitRoster(rosterStore)
	e := engine.New(cfg, id, noTransport{}, commitRoster, pendingStore, chainStore, entityIdx)

	nodes, err := rosterStore.Nodes()
	if err != nil {
		log.WithError(err).Fatal("listing roster")
	}
	for _, n := range nodes {
		if n.NodeID != id.NodeID() {
			e.AddPeer(n.NodeID)
		}
	}

	if err := e.Start(); err != nil {
		log.WithError(err).Fatal("starting engine")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tickLoop(ctx, e, *tickEvery, log)

	http.HandleFunc("/search", searchHandler(e))
	http.HandleFunc("/submit", submitHandler(e))

	listener, err := net.Listen("tcp", *addr)
	if err != nil {
		log.WithError(err).Fatal("listening")
	}
	log.WithFields(logrus.Fields{"addr": listener.Addr(), "node_id": id.NodeID()}).Info("cellnoded listening")
	if err := http.Serve(listener, nil); err != nil {
		log.WithError(err).Fatal("serving")
	}
}

// noTransport stands in for the peer-messaging collaborator spec.md §1
// declares out of scope; a single-node cell (quorum of one and no peers in
// the roster) never drives either method.
type noTransport struct{}

func (noTransport) ChainSync(ctx context.Context, peerID string, req chainsync.Request) (chainsync.Response, error) {
	return chainsync.Response{}, errors.New("cellnoded: no transport configured")
}

func (noTransport) PendingSync(ctx context.Context, peerID string, msg pendingsync.Message) (pendingsync.Message, error) {
	return pendingsync.Message{}, errors.New("cellnoded: no transport configured")
}

func tickLoop(ctx context.Context, e *engine.Engine, every time.Duration, log *logrus.Entry) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if err := e.Tick(ctx, now.UnixNano()); err != nil {
				log.WithError(err).Error("tick failed")
			}
		}
	}
}

type searchRequest struct {
	Query    mutationindex.Query    `json:"query"`
	Ordering mutationindex.Ordering `json:"ordering"`
	Page     mutationindex.Page     `json:"page"`

	// WaitForOffset, if set, blocks the search until the entity index has
	// folded in everything up to that chain offset — a caller that just
	// submitted an entry and wants its own write reflected in this search
	// rather than polling.
	WaitForOffset int64 `json:"wait_for_offset,omitempty"`
}

func searchHandler(e *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req searchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.Errorf(w, r, http.StatusBadRequest, "decoding request: %s", err)
			return
		}
		if req.WaitForOffset > 0 {
			ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
			defer cancel()
			if err := e.WaitIndexed(ctx, req.WaitForOffset); err != nil {
				httputil.Errorf(w, r, http.StatusGatewayTimeout, "waiting for index: %s", err)
				return
			}
		}
		results, err := e.Search(req.Query, req.Ordering, req.Page, time.Now().UnixNano())
		if err != nil {
			httputil.Errorf(w, r, http.StatusInternalServerError, "search: %s", err)
			return
		}
		if err := json.NewEncoder(w).Encode(results); err != nil {
			httputil.Errorf(w, r, http.StatusInternalServerError, "encoding response: %s", err)
		}
	}
}

func submitHandler(e *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var entry entityindex.Entry
		if err := json.NewDecoder(r.Body).Decode(&entry); err != nil {
			httputil.Errorf(w, r, http.StatusBadRequest, "decoding entry: %s", err)
			return
		}
		id, err := e.SubmitEntry(entry)
		if err != nil {
			httputil.Errorf(w, r, http.StatusInternalServerError, "submitting entry: %s", err)
			return
		}
		json.NewEncoder(w).Encode(map[string]uint64{"operation_id": id})
	}
}
