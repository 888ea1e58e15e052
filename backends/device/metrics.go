// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package device

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics of one device, registered in a registry owned by the device, so many devices can coexist.
type metrics struct {
	registry *prometheus.Registry

	kernelLaunches *prometheus.CounterVec
	kernelThreads  *prometheus.CounterVec
	kernelDuration *prometheus.HistogramVec
	blasCalls      *prometheus.CounterVec
	bytesCopied    prometheus.Counter
	bytesSet       prometheus.Counter
	streamFailures prometheus.Counter
	allocatedBytes prometheus.Gauge
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	return &metrics{
		registry: registry,
		kernelLaunches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gpukernels_kernel_launches_total",
			Help: "Number of kernel launches, per kernel.",
		}, []string{"kernel"}),
		kernelThreads: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gpukernels_kernel_threads_total",
			Help: "Number of threads launched, per kernel.",
		}, []string{"kernel"}),
		kernelDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gpukernels_kernel_duration_seconds",
			Help:    "Time to run all blocks of a kernel launch.",
			Buckets: prometheus.ExponentialBuckets(1e-6, 4, 12),
		}, []string{"kernel"}),
		blasCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gpukernels_blas_calls_total",
			Help: "Number of BLAS calls, per routine.",
		}, []string{"routine"}),
		bytesCopied: factory.NewCounter(prometheus.CounterOpts{
			Name: "gpukernels_memcpy_bytes_total",
			Help: "Bytes copied device-to-device.",
		}),
		bytesSet: factory.NewCounter(prometheus.CounterOpts{
			Name: "gpukernels_memset_bytes_total",
			Help: "Bytes set by memset operations.",
		}),
		streamFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "gpukernels_stream_failures_total",
			Help: "Number of failed stream operations.",
		}),
		allocatedBytes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gpukernels_allocated_bytes",
			Help: "Bytes of device memory currently allocated.",
		}),
	}
}

// ObserveBLASCall records one call to a BLAS routine. It is used by the blas package.
func (d *Device) ObserveBLASCall(routine string) {
	d.metrics.blasCalls.WithLabelValues(routine).Inc()
}
