// Package roster is the durable store of cell membership and per-peer sync
// watermarks — small relational side-state that doesn't belong in the
// chain or the search index, adapted from the teacher's store.go/schema.go
// (blockStore backed by database/sql + github.com/mattn/go-sqlite3).
package roster

import (
	"database/sql"

	"github.com/pkg/errors"

	_ "github.com/mattn/go-sqlite3"
)

// Node is one cell member's identity and transport address.
type Node struct {
	NodeID  string
	Address string
}

// Store is the roster's durable backing, one SQLite file per cell.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the roster database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "roster: opening db")
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "roster: creating schema")
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// AddNode registers a peer, replacing its address if already present.
func (s *Store) AddNode(nodeID, address string) error {
	_, err := s.db.Exec(
		`INSERT INTO nodes (node_id, address) VALUES ($1, $2)
		 ON CONFLICT (node_id) DO UPDATE SET address = excluded.address`,
		nodeID, address,
	)
	return errors.Wrapf(err, "roster: adding node %s", nodeID)
}

// RemoveNode drops a peer and its watermark.
func (s *Store) RemoveNode(nodeID string) error {
	if _, err := s.db.Exec(`DELETE FROM peer_watermarks WHERE node_id = $1`, nodeID); err != nil {
		return errors.Wrapf(err, "roster: removing watermark for %s", nodeID)
	}
	_, err := s.db.Exec(`DELETE FROM nodes WHERE node_id = $1`, nodeID)
	return errors.Wrapf(err, "roster: removing node %s", nodeID)
}

// Nodes returns every registered peer.
func (s *Store) Nodes() ([]Node, error) {
	rows, err := s.db.Query(`SELECT node_id, address FROM nodes ORDER BY node_id`)
	if err != nil {
		return nil, errors.Wrap(err, "roster: listing nodes")
	}
	defer rows.Close()

	var out []Node
	for rows.Next() {
		var n Node
		if err := rows.Scan(&n.NodeID, &n.Address); err != nil {
			return nil, errors.Wrap(err, "roster: scanning node")
		}
		out = append(out, n)
	}
	return out, errors.Wrap(rows.Err(), "roster: iterating nodes")
}

// SetWatermark persists the durable sync progress for nodeID (spec §9
// "leader/peer state"). The engine neither writes nor reloads these
// watermarks; it rebuilds peer sync state from scratch on every start.
func (s *Store) SetWatermark(nodeID string, lastCommonOffset int64, lastAckedOperationID uint64) error {
	_, err := s.db.Exec(
		`INSERT INTO peer_watermarks (node_id, last_common_offset, last_acked_operation_id)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (node_id) DO UPDATE SET
		   last_common_offset = excluded.last_common_offset,
		   last_acked_operation_id = excluded.last_acked_operation_id`,
		nodeID, lastCommonOffset, lastAckedOperationID,
	)
	return errors.Wrapf(err, "roster: setting watermark for %s", nodeID)
}

// Watermark returns nodeID's last persisted sync progress, zero values if
// none has been recorded yet.
func (s *Store) Watermark(nodeID string) (lastCommonOffset int64, lastAckedOperationID uint64, err error) {
	row := s.db.QueryRow(
		`SELECT last_common_offset, last_acked_operation_id FROM peer_watermarks WHERE node_id = $1`,
		nodeID,
	)
	err = row.Scan(&lastCommonOffset, &lastAckedOperationID)
	if err == sql.ErrNoRows {
		return 0, 0, nil
	}
	return lastCommonOffset, lastAckedOperationID, errors.Wrapf(err, "roster: reading watermark for %s", nodeID)
}
