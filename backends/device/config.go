// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package device

import (
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// EnvDeviceConfig is the environment variable with the default device configuration to use.
//
// The format of the configuration is a comma-separated list of "<key>=<value>" pairs, see ParseConfig.
const EnvDeviceConfig = "GPUKERNELS_DEVICE"

// DefaultConfig is used by New if the environment variable EnvDeviceConfig is not set.
var DefaultConfig string

// MaxThreadsPerBlock is the hardware cap of threads in a thread block.
const MaxThreadsPerBlock = 1024

// Config holds the configuration of a Device.
type Config struct {
	// Parallelism is the maximum number of thread blocks running concurrently.
	// It defaults to runtime.NumCPU().
	Parallelism int

	// MaxBlockSize is the maximum number of threads per block, at most MaxThreadsPerBlock.
	MaxBlockSize int

	// BLASParallelism is the soft target of goroutines used by the BLAS routines
	// to run independent batch matrices in parallel. If 0 batches are run sequentially,
	// if -1 it is unlimited.
	BLASParallelism int

	// QueueDepth is the number of operations a stream can hold before Enqueue blocks.
	QueueDepth int
}

// DefaultDeviceConfig returns the configuration used for keys not given in the configuration string.
func DefaultDeviceConfig() Config {
	return Config{
		Parallelism:     runtime.NumCPU(),
		MaxBlockSize:    MaxThreadsPerBlock,
		BLASParallelism: runtime.NumCPU(),
		QueueDepth:      256,
	}
}

// ParseConfig parses a configuration string formatted as a comma-separated list of "<key>=<value>".
//
// Keys:
//
//   - parallelism: maximum number of thread blocks running concurrently.
//   - max_block_size: maximum threads per block, a power of 2 <= 1024.
//   - blas_parallelism: goroutines used by BLAS batched routines (0 = sequential, -1 = unlimited).
//   - queue_depth: operations a stream holds before blocking the host.
//
// An empty string returns DefaultDeviceConfig().
func ParseConfig(config string) (Config, error) {
	c := DefaultDeviceConfig()
	for _, part := range strings.Split(config, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, found := strings.Cut(part, "=")
		if !found {
			return c, errors.Errorf("device configuration %q: missing value for %q, expected format \"<key>=<value>\"", config, part)
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return c, errors.Wrapf(err, "device configuration %q: invalid value for %q", config, key)
		}
		switch strings.TrimSpace(key) {
		case "parallelism":
			if n <= 0 {
				return c, errors.Errorf("device configuration %q: parallelism must be > 0, got %d", config, n)
			}
			c.Parallelism = n
		case "max_block_size":
			if n <= 0 || n > MaxThreadsPerBlock || n&(n-1) != 0 {
				return c, errors.Errorf("device configuration %q: max_block_size must be a power of 2 in [1, %d], got %d",
					config, MaxThreadsPerBlock, n)
			}
			c.MaxBlockSize = n
		case "blas_parallelism":
			c.BLASParallelism = n
		case "queue_depth":
			if n <= 0 {
				return c, errors.Errorf("device configuration %q: queue_depth must be > 0, got %d", config, n)
			}
			c.QueueDepth = n
		default:
			return c, errors.Errorf("device configuration %q: unknown key %q", config, key)
		}
	}
	return c, nil
}

// configFromEnv returns the configuration string to use by New.
func configFromEnv() string {
	if config, found := os.LookupEnv(EnvDeviceConfig); found {
		return config
	}
	return DefaultConfig
}
