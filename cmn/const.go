// Package cmn provides low-level helpers shared by every zdmr package:
// byte-size constants, assertions, id generation, cloud-URL detection and
// the cached HTTP client pool.
package cmn

import "time"

// Byte sizes, named the way call sites read best.
const (
	KiB = 1024
	MiB = 1024 * KiB
	GiB = 1024 * MiB
)

const (
	// ChunkSize is the unit at which bandwidth credits are acquired and
	// bytes are written to the destination file.
	ChunkSize = 64 * KiB

	// MultipartThreshold is the minimum known content length before the
	// planner will consider a ranged, multi-segment transfer.
	MultipartThreshold = 32 * MiB

	// SegmentSize is the size of one planned segment.
	SegmentSize = 16 * MiB

	// WarmupSize is the size of the ranged probe GET used to estimate
	// available bandwidth ahead of planning.
	WarmupSize = 1 * MiB

	// MaxFilenameSuffix is the hard cap on "(n)" collision suffixes.
	MaxFilenameSuffix = 10000

	// MaxConcurrentSegments caps how many of a download's segments may be
	// in flight at once, independent of how many the planner laid out.
	MaxConcurrentSegments = 8
)

// HTTP client defaults, applied to every cached client regardless of proxy.
const (
	DialTimeout       = 15 * time.Second
	RequestTimeout    = 60 * time.Second
	MaxRedirects      = 10
	DefaultUserAgent  = "zdmr/1.0"
	AggregatorTick    = 33 * time.Millisecond
	WorkerPollTick    = 200 * time.Millisecond
	ByteCheckpointTTL = 1 * time.Second
)
