package search

import (
	"strconv"
	"strings"
)

// Environment variables read by LimitsFromEnv.
const (
	EnvMaxResults        = "KG_SEARCH_MAX_RESULTS"
	EnvBatchSize         = "KG_SEARCH_BATCH_SIZE"
	EnvMaxClientEntities = "KG_SEARCH_MAX_CLIENT_ENTITIES"
	EnvClientChunkSize   = "KG_SEARCH_CLIENT_CHUNK_SIZE"
)

// Default limits and their clamp ranges.
const (
	DefaultMaxResults        = 100
	DefaultBatchSize         = 10
	DefaultMaxClientEntities = 10000
	DefaultClientChunkSize   = 1000

	minMaxResults, maxMaxResults               = 1, 1000
	minBatchSize, maxBatchSize                 = 1, 50
	minMaxClientEntities, maxMaxClientEntities = 100, 100000
	minChunkSize, maxChunkSize                 = 100, 10000
)

// Limits bounds search work. It is built once at startup and passed by value;
// nothing reads the environment after that.
type Limits struct {
	// MaxResults caps rows returned per database search term and in total.
	MaxResults int

	// BatchSize is the number of query terms combined into one SQL round-trip.
	BatchSize int

	// MaxClientEntities caps the entities loaded for client-side search.
	MaxClientEntities int

	// ChunkSize is the number of entities scored per client-side chunk.
	ChunkSize int
}

// NewLimits builds Limits, replacing zero values with defaults and clamping the rest.
func NewLimits(maxResults, batchSize, maxClientEntities, chunkSize int) Limits {
	return Limits{
		MaxResults:        clampOrDefault(maxResults, DefaultMaxResults, minMaxResults, maxMaxResults),
		BatchSize:         clampOrDefault(batchSize, DefaultBatchSize, minBatchSize, maxBatchSize),
		MaxClientEntities: clampOrDefault(maxClientEntities, DefaultMaxClientEntities, minMaxClientEntities, maxMaxClientEntities),
		ChunkSize:         clampOrDefault(chunkSize, DefaultClientChunkSize, minChunkSize, maxChunkSize),
	}
}

// DefaultLimits returns the default Limits.
func DefaultLimits() Limits {
	return NewLimits(0, 0, 0, 0)
}

// LimitsFromEnv reads the KG_SEARCH_* variables through lookup (normally os.LookupEnv).
// Missing or unparsable values fall back to defaults.
func LimitsFromEnv(lookup func(string) (string, bool)) Limits {
	read := func(key string) int {
		raw, ok := lookup(key)
		if !ok {
			return 0
		}
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return 0
		}
		return n
	}
	return NewLimits(read(EnvMaxResults), read(EnvBatchSize), read(EnvMaxClientEntities), read(EnvClientChunkSize))
}

// normalized applies NewLimits to a hand-built value.
func (l Limits) normalized() Limits {
	return NewLimits(l.MaxResults, l.BatchSize, l.MaxClientEntities, l.ChunkSize)
}

func clampOrDefault(v, def, lo, hi int) int {
	if v == 0 {
		return def
	}
	return min(max(v, lo), hi)
}
