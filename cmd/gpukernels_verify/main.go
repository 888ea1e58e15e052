// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// gpukernels_verify runs the device kernels on random inputs, and checks their results against the host
// reference implementations.
//
// It prints a report of the checks and of the device metrics, and exits with a non-zero status if any check fails.
//
// Example:
//
//	gpukernels_verify -dtype=float16 -batch=4 -m=64 -n=32 -k=128 -transpose_a -bias -axis_len=3000
package main

import (
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"strings"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gpukernels/backends/device"
	"github.com/gomlx/gpukernels/backends/kernels/argop"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	flagDevice = flag.String("device", "", fmt.Sprintf(
		"Device configuration, a comma-separated list of \"<key>=<value>\". If empty, $%s is used.", device.EnvDeviceConfig))
	flagDType = flag.String("dtype", "float32", "Element type of the inputs. GEMM is only checked for "+
		"float16, float32 and float64, the arg-reductions for all numeric types.")
	flagBatch = flag.Int("batch", 2, "Number of matrices in the GEMM batch, and of rows of the arg-reduction input.")
	flagM     = flag.Int("m", 16, "Rows of A and of the GEMM result.")
	flagN     = flag.Int("n", 24, "Columns of B and of the GEMM result.")
	flagK     = flag.Int("k", 32, "Columns of A and rows of B.")

	flagAxisLen    = flag.Int("axis_len", 1500, "Length of the reduced axis of the arg-reductions.")
	flagTransposeA = flag.Bool("transpose_a", false, "Store A transposed, and describe it with swapped strides.")
	flagBias       = flag.Bool("bias", false, "Call GEMM with a bias argument, computing A×B + bias.")
	flagSeed       = flag.Uint64("seed", 42, "Seed of the random inputs.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	dtype, err := parseDType(*flagDType)
	if err != nil {
		klog.Fatalf("Invalid -dtype: %+v", err)
	}
	var d *device.Device
	if *flagDevice != "" {
		d, err = device.NewWithConfig(*flagDevice)
	} else {
		d, err = device.New()
	}
	if err != nil {
		klog.Fatalf("Failed to create device: %+v", err)
	}

	v := &verifier{
		device: d,
		stream: d.NewStream(),
		rng:    rand.New(rand.NewPCG(*flagSeed, 0)),
		dtype:  dtype,
	}
	results := v.runAll()
	report(d, results)
	d.Finalize()
	for _, r := range results {
		if r.status == statusFail {
			os.Exit(1)
		}
	}
}

// parseDType accepts the dtype names, case-insensitive, e.g. "float32" or "BFloat16".
func parseDType(name string) (dtypes.DType, error) {
	for _, dtype := range argop.DTypes() {
		if strings.EqualFold(dtype.String(), name) {
			return dtype, nil
		}
	}
	return dtypes.InvalidDType, errors.Errorf("unknown or unsupported dtype %q, supported dtypes are %v", name, argop.DTypes())
}
