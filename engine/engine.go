// Package engine drives the single cooperative tick described in spec §5:
// chain sync and pending sync fanned out per peer within one tick (joined
// before the tick completes), followed by the commit manager and the
// entity index, exactly the way the teacher's custodian goroutines each
// poll external state and the results converge on one block store.
package engine

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/nodecell/datacell/cell"
	"github.com/nodecell/datacell/chainstore"
	"github.com/nodecell/datacell/chainsync"
	"github.com/nodecell/datacell/commit"
	"github.com/nodecell/datacell/entityindex"
	"github.com/nodecell/datacell/frame"
	"github.com/nodecell/datacell/mutationindex"
	"github.com/nodecell/datacell/pending"
	"github.com/nodecell/datacell/pendingsync"
)

// ErrFatal wraps any condition the engine can't recover from within a tick
// — a diverged chain, or the entity index's own ErrFatal — spec §7
// "Fatal errors propagate out of the engine, which stops advancing until
// external intervention."
var ErrFatal = errors.New("engine: fatal condition, stopping")

// pendingSyncMaxRoundsPerTick bounds how many Initiate/Respond round trips
// one peer's pending sync runs within a single tick, converging local state
// without waiting for additional ticks (spec §8 "Pending-sync convergence").
const pendingSyncMaxRoundsPerTick = 8

// peer is the engine's per-peer runtime state (spec §9 "Leader/peer state
// ... an intentionally isolated value owned by the engine").
type peer struct {
	nodeID string
	chain  *chainsync.PeerState
}

// Engine is the state machine spec §5 describes: single-threaded at the
// handler level, advanced by Tick and by the entity index's event stream.
type Engine struct {
	cfg       cell.Config
	selfID    cell.Identity
	transport cell.Transport
	roster    cell.CommitRoster

	pendingStore *pending.Store
	chainStore   *chainstore.Store
	entityIdx    *entityindex.Index

	bus   *Bus
	log   *logrus.Entry
	peers map[string]*peer

	nextOperationID uint64
}

// New constructs an Engine over already-open stores and indices.
func New(cfg cell.Config, selfID cell.Identity, transport cell.Transport, roster cell.CommitRoster, pendingStore *pending.Store, chainStore *chainstore.Store, entityIdx *entityindex.Index) *Engine {
	return &Engine{
		cfg:          cfg,
		selfID:       selfID,
		transport:    transport,
		roster:       roster,
		pendingStore: pendingStore,
		chainStore:   chainStore,
		entityIdx:    entityIdx,
		bus:          NewBus(cfg.BusCapacity),
		log:          logrus.WithField("component", "engine"),
		peers:        make(map[string]*peer),
	}
}

// Bus exposes the engine's event fan-out for external subscribers (spec §6's
// external query-API collaborator).
func (e *Engine) Bus() *Bus { return e.bus }

// Search runs a query against the entity index (spec §4.8 "Search"), the
// read surface the external query API named in spec §6 drives.
func (e *Engine) Search(q mutationindex.Query, ord mutationindex.Ordering, page mutationindex.Page, nowNanos int64) (entityindex.SearchResults, error) {
	return e.entityIdx.Search(q, ord, page, nowNanos)
}

// WaitIndexed blocks until offset is durably folded into the chain index,
// letting the external query-API collaborator (spec §6) avoid polling
// Search for a write it just submitted (spec §12 "BlockWaiter-style height
// wait").
func (e *Engine) WaitIndexed(ctx context.Context, offset int64) error {
	return e.entityIdx.WaitIndexed(ctx, offset)
}

// SubmitEntry assigns a freshly authored entityindex.Entry its operation
// id, wraps it in a signed frame, and admits it to the pending store — the
// local-authoring counterpart to the teacher's custodian accepting a
// submitted Stellar transaction. Returns the assigned operation id.
func (e *Engine) SubmitEntry(entry entityindex.Entry) (uint64, error) {
	id := e.allocateOperationID()
	entry.OperationID = id
	entry.GroupID = id

	hashSigner, err := frame.NewMultihashSigner(frame.CodeSHA3_256)
	if err != nil {
		return 0, err
	}
	enc, err := frame.Encode(frame.TypePendingOperation, entityindex.EncodeEntry(entry), hashSigner)
	if err != nil {
		return 0, err
	}
	f, err := frame.New(enc)
	if err != nil {
		return 0, err
	}
	e.pendingStore.Put(pending.Operation{OperationID: id, GroupID: id, Type: pending.TypeEntry, Frame: f})
	return id, nil
}

// AddPeer registers nodeID for chain and pending sync.
func (e *Engine) AddPeer(nodeID string) {
	e.peers[nodeID] = &peer{
		nodeID: nodeID,
		chain:  chainsync.NewPeerState(e.cfg.RequestMinIntervalNanos, e.cfg.RequestTimeoutNanos),
	}
}

// Start runs the Started event through the entity index — must be called
// once before the first Tick (spec §4.8 "Started: index every committed
// block not yet folded... then rebuild the pending index").
func (e *Engine) Start() error {
	return e.entityIdx.HandleEvents([]entityindex.Event{{Kind: entityindex.EventStarted}})
}

// Tick runs one cooperative cycle: chain sync, pending sync, the commit
// manager, then folds whatever happened into the entity index and the
// event bus. nowNanos is the single reference time the whole tick uses
// (spec §5 "the commit manager observes a snapshot ... taken at the start
// of the tick").
func (e *Engine) Tick(ctx context.Context, nowNanos int64) error {
	var events []entityindex.Event

	chainEvents, err := e.tickChainSync(ctx, nowNanos)
	if err != nil {
		return err
	}
	events = append(events, chainEvents...)

	pendingEvents, err := e.tickPendingSync(ctx, nowNanos)
	if err != nil {
		return err
	}
	events = append(events, pendingEvents...)

	commitEvents, err := e.tickCommit()
	if err != nil {
		return err
	}
	events = append(events, commitEvents...)

	for _, ev := range events {
		e.bus.Emit(ev)
	}
	if err := e.entityIdx.HandleEvents(events); err != nil {
		if errors.Is(err, entityindex.ErrFatal) {
			return errors.Wrap(ErrFatal, err.Error())
		}
		return err
	}
	return nil
}

// tickChainSync runs the metadata phase for every due peer concurrently
// (golang.org/x/sync/errgroup, joined before returning — spec's "fan-out of
// per-peer tick work within a single tick"), elects a leader, then runs the
// download phase against the leader alone.
func (e *Engine) tickChainSync(ctx context.Context, nowNanos int64) ([]entityindex.Event, error) {
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range e.peers {
		p := p
		if !p.chain.Tracker.ReadyToSend(nowNanos) {
			continue
		}
		g.Go(func() error {
			req := chainsync.Request{FromOffset: 0, RequestedDetails: chainsync.DetailsHeaders}
			p.chain.Tracker.MarkSent(nowNanos)
			resp, err := e.transport.ChainSync(gctx, p.nodeID, req)
			if err != nil {
				e.log.WithError(err).WithField("peer", p.nodeID).Warn("chain sync metadata request failed")
				return nil // peer unresponsiveness is non-fatal, spec §5
			}
			p.chain.Tracker.MarkReplied(nowNanos)
			return chainsync.ApplyHeaderSample(e.chainStore, p.chain, resp.Headers)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	peerStates := make(map[string]*chainsync.PeerState, len(e.peers))
	for id, p := range e.peers {
		peerStates[id] = p.chain
	}
	leaderID, isSelf := chainsync.SelectLeader(e.chainStore.NextOffset(), peerStates, e.cfg.Quorum)
	if isSelf {
		return nil, nil
	}

	leader := e.peers[leaderID]
	if err := chainsync.CheckDivergence(e.chainStore, leader.chain); err != nil {
		return nil, errors.Wrapf(ErrFatal, "chain diverged from leader %s: %v", leaderID, err)
	}

	req := chainsync.Request{FromOffset: e.chainStore.NextOffset(), RequestedDetails: chainsync.DetailsBlocks}
	resp, err := e.transport.ChainSync(ctx, leaderID, req)
	if err != nil {
		e.log.WithError(err).WithField("peer", leaderID).Warn("chain sync download request failed")
		return nil, nil
	}

	var events []entityindex.Event
	err = chainsync.ApplyBlocksResponse(e.chainStore, resp, func(b chainstore.Block) {
		events = append(events, entityindex.Event{Kind: entityindex.EventNewChainBlock, Offset: b.Header.Offset})
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// tickPendingSync runs a bounded Initiate/Respond exchange against every
// registered peer concurrently, applying whatever new operations each round
// surfaces.
func (e *Engine) tickPendingSync(ctx context.Context, nowNanos int64) ([]entityindex.Event, error) {
	currentHeight, _ := e.currentHeight()
	filter := pendingsync.DepthFilter{CurrentHeight: currentHeight, MinDepth: e.cfg.OperationsDepthAfterCleanup}

	type peerResult struct {
		appliedIDs []uint64
	}
	results := make([]peerResult, 0, len(e.peers))
	resultCh := make(chan peerResult, len(e.peers))

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range e.peers {
		p := p
		g.Go(func() error {
			var applied []uint64
			var outstanding []uint64
			msg := pendingsync.Initiate(e.pendingStore, filter, e.cfg.MaxOperationsPerRange)
			for round := 0; round < pendingSyncMaxRoundsPerTick; round++ {
				peerReply, err := e.transport.PendingSync(gctx, p.nodeID, msg)
				if err != nil {
					e.log.WithError(err).WithField("peer", p.nodeID).Warn("pending sync request failed")
					return nil
				}
				localReply, appliedOps, missing, err := pendingsync.Respond(e.pendingStore, filter, peerReply)
				if err != nil {
					e.log.WithError(err).WithField("peer", p.nodeID).Warn("pending sync response rejected")
					return nil
				}
				for _, op := range appliedOps {
					applied = append(applied, op.OperationID)
				}
				outstanding = missing
				if len(localReply.Ranges) == 0 {
					break
				}
				msg = localReply
			}
			if len(outstanding) > 0 {
				// The round budget ran out before the headers exchange
				// converged; nothing from this exchange is kept, and the
				// next tick's Initiate starts over from range summaries,
				// which still disagree and pick up the remainder (spec §8
				// "Pending-sync convergence").
				e.log.WithFields(logrus.Fields{"peer": p.nodeID, "count": len(outstanding)}).
					Debug("pending sync round budget exhausted with operations still outstanding")
			}
			resultCh <- peerResult{appliedIDs: applied}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	close(resultCh)
	for r := range resultCh {
		results = append(results, r)
	}

	var events []entityindex.Event
	for _, r := range results {
		for _, id := range r.appliedIDs {
			events = append(events, entityindex.Event{Kind: entityindex.EventNewPendingOperation, OperationID: id})
		}
	}
	return events, nil
}

// tickCommit runs the commit manager's single-threaded tick (spec §4.6) and
// materializes whatever it produced as framed pending operations.
func (e *Engine) tickCommit() ([]entityindex.Event, error) {
	quorum, err := e.roster.Quorum()
	if err != nil {
		return nil, err
	}

	cfg := commit.Config{
		Quorum:                      quorum,
		OperationsCleanupAfterDepth: e.cfg.OperationsCleanupAfterDepth,
		SelfNodeID:                  e.selfID.NodeID(),
		AllocateOperationID:         e.allocateOperationID,
		Sign:                        e.selfID.Sign,
	}

	result, err := commit.Tick(e.pendingStore, e.chainStore, e.roster, cfg)
	if err != nil {
		if errors.Is(err, commit.ErrFatal) {
			return nil, errors.Wrap(ErrFatal, err.Error())
		}
		return nil, err
	}

	var events []entityindex.Event

	if result.NewProposal != nil {
		e.putOperation(result.NewProposal.GroupID, result.NewProposal.GroupID, pending.TypeBlockPropose, commit.EncodeProposal(*result.NewProposal))
		events = append(events, entityindex.Event{Kind: entityindex.EventNewPendingOperation, OperationID: result.NewProposal.GroupID})
	}
	if result.NewSign != nil {
		id := e.allocateOperationID()
		e.putOperation(id, result.NewSignGroup, pending.TypeBlockSign, commit.EncodeSign(*result.NewSign))
		events = append(events, entityindex.Event{Kind: entityindex.EventNewPendingOperation, OperationID: id})
	}
	if result.NewRefuse != nil {
		id := e.allocateOperationID()
		e.putOperation(id, result.NewRefuseGroup, pending.TypeBlockRefuse, commit.EncodeRefuse(*result.NewRefuse))
		events = append(events, entityindex.Event{Kind: entityindex.EventNewPendingOperation, OperationID: id})
	}
	if result.Committed != nil {
		events = append(events, entityindex.Event{Kind: entityindex.EventNewChainBlock, Offset: result.Committed.Header.Offset})
	}
	return events, nil
}

func (e *Engine) putOperation(id, groupID uint64, typ pending.OperationType, payload []byte) {
	hashSigner, err := frame.NewMultihashSigner(frame.CodeSHA3_256)
	if err != nil {
		e.log.WithError(err).Error("creating frame signer")
		return
	}
	enc, err := frame.Encode(frame.TypePendingOperation, payload, hashSigner)
	if err != nil {
		e.log.WithError(err).Error("encoding pending operation frame")
		return
	}
	f, err := frame.New(enc)
	if err != nil {
		e.log.WithError(err).Error("reading back encoded frame")
		return
	}
	e.pendingStore.Put(pending.Operation{OperationID: id, GroupID: groupID, Type: typ, Frame: f})
}

// allocateOperationID is a simple monotonic local allocator. A full
// implementation would coordinate id allocation across the cell (e.g. node
// id high bits + local counter) via the external collaborator named in
// spec §1; that scheme is out of scope here.
func (e *Engine) allocateOperationID() uint64 {
	e.nextOperationID++
	return e.nextOperationID
}

func (e *Engine) currentHeight() (uint64, bool) {
	last, err := e.chainStore.GetLastBlock()
	if err != nil {
		return 0, false
	}
	return last.Header.Height, true
}
