package xmlmpu

import (
	"fmt"
	"runtime"
	"time"

	"github.com/bitrise-io/go-transferutils/transfer"
	"github.com/docker/go-units"
)

// Config holds configuration for the multipart upload coordinator.
type Config struct {
	// Concurrency is the maximum number of parallel part uploads.
	// Default: min(NumCPU * 3, 20), minimum 2
	Concurrency int

	// PartSize is the size of each part in bytes except the last one.
	// Default: 32 MiB
	PartSize int64

	// MaxRetryPerPart is the number of retries per part on top of the
	// first attempt.
	// Default: 3
	MaxRetryPerPart uint

	// RetryWait is the pause between attempts of the same part.
	// Default: 5 seconds
	RetryWait time.Duration

	// Checksum selects end-to-end validation of each part body.
	// Default: CRC32C
	Checksum transfer.Checksum
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Concurrency:     DefaultConcurrency(),
		PartSize:        32 * units.MiB,
		MaxRetryPerPart: 3,
		RetryWait:       5 * time.Second,
		Checksum:        transfer.ChecksumCRC32C,
	}
}

// DefaultConcurrency calculates the default concurrency based on CPU count.
func DefaultConcurrency() int {
	c := runtime.NumCPU() * 3

	if c > 20 {
		c = 20
	}

	if c < 2 {
		c = 2
	}

	return c
}

// ParsePartSize converts a human-readable size such as "16MB" or "1g" to
// bytes and rejects values too small to make parallelism worthwhile.
func ParsePartSize(value string) (int64, error) {
	size, err := units.RAMInBytes(value)
	if err != nil {
		return 0, fmt.Errorf("parse part size %q: %w", value, err)
	}
	if size < 5*units.MiB {
		return 0, fmt.Errorf("part size %s is below the 5MiB minimum", units.HumanSize(float64(size)))
	}
	return size, nil
}
