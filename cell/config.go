// Package cell wires the cell-wide collaborators — configuration, node
// identity, the roster of peers, and the transport/discovery hooks the
// engine depends on but this repository doesn't implement (spec §6
// "External Interfaces") — around the core chain/pending/index packages.
package cell

// Config bundles every tunable named in spec §6 "Configuration". cmd/cellnoded
// uses the defaults as they are (none of its flags set a Config field); a
// cell embedded directly adjusts them with the functional options below,
// mirroring the teacher's
// custodian constructor taking explicit parameters rather than a config
// file (config file editing is out of scope, spec §1).
type Config struct {
	SegmentMaxSize          int64
	SegmentOverAllocateSize int64

	ChainIndexMinDepth          uint64
	OperationsCleanupAfterDepth uint64
	OperationsDepthAfterCleanup uint64

	MaxOperationsPerRange int
	BlocksMaxSendSize     int

	HeadersSyncBeginCount   int
	HeadersSyncEndCount     int
	HeadersSyncSampledCount int

	IteratorPageSize         int
	IteratorMaxPages         int
	EntityMutationsCacheSize int

	IndexerNumThreads    int
	IndexerHeapSizeBytes int64

	Quorum int

	RequestMinIntervalNanos int64
	RequestTimeoutNanos     int64

	// BusCapacity bounds the engine's event bus before a lagging reader is
	// forced into StreamDiscontinuity (spec §9 "bounded event channel").
	BusCapacity int
}

// DefaultConfig returns the configuration spec §6 documents as defaults.
func DefaultConfig() Config {
	return Config{
		SegmentMaxSize:          4 << 30, // 4 GiB
		SegmentOverAllocateSize: 64 << 20,

		ChainIndexMinDepth:          6,
		OperationsCleanupAfterDepth: 10,
		OperationsDepthAfterCleanup: 2,

		MaxOperationsPerRange: 1024,
		BlocksMaxSendSize:     8 << 20,

		HeadersSyncBeginCount:   4,
		HeadersSyncEndCount:     8,
		HeadersSyncSampledCount: 32,

		IteratorPageSize: 256,
		IteratorMaxPages: 64,

		EntityMutationsCacheSize: 4096,

		IndexerNumThreads:    1,
		IndexerHeapSizeBytes: 256 << 20,

		Quorum: 1,

		RequestMinIntervalNanos: int64(200e6),  // 200ms
		RequestTimeoutNanos:     int64(5000e6), // 5s

		BusCapacity: 4096,
	}
}

// Option mutates a Config, following the teacher's preference for explicit
// parameters over a config file format.
type Option func(*Config)

func WithSegmentMaxSize(n int64) Option { return func(c *Config) { c.SegmentMaxSize = n } }

func WithQuorum(n int) Option { return func(c *Config) { c.Quorum = n } }

func WithChainIndexMinDepth(n uint64) Option { return func(c *Config) { c.ChainIndexMinDepth = n } }

func WithBusCapacity(n int) Option { return func(c *Config) { c.BusCapacity = n } }

// New returns DefaultConfig with every opt applied in order.
func New(opts ...Option) Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
