package roster

// schema mirrors the teacher's store.go/schema.go shape (a couple of small
// relational tables alongside the append-only chain/pending stores) but
// holds a cell's roster of peers and their durable sync watermarks instead
// of Stellar peg bookkeeping.
const schema = `
CREATE TABLE IF NOT EXISTS nodes (
  node_id TEXT NOT NULL PRIMARY KEY,
  address TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS peer_watermarks (
  node_id TEXT NOT NULL PRIMARY KEY REFERENCES nodes (node_id),
  last_common_offset INTEGER NOT NULL DEFAULT 0,
  last_acked_operation_id INTEGER NOT NULL DEFAULT 0
);
`
