// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/gpukernels/backends/device"
	dto "github.com/prometheus/client_model/go"
	"k8s.io/klog/v2"
)

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)

	oddRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFF")).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#999")).
			PaddingLeft(1).PaddingRight(1)

	passStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#0A0")).Bold(true)
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#F00")).Bold(true)

	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)
)

func newPlainTable(withHeader bool) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if withHeader && row == 1 {
				s = headerRowStyle
				return
			}
			switch {
			case row%2 == 0:
				s = oddRowStyle
			default:
				s = evenRowStyle
			}
			if col == 0 {
				s = s.Align(lipgloss.Right)
			} else {
				s = s.Align(lipgloss.Left)
			}
			return
		})
}

func report(d *device.Device, results []result) {
	fmt.Println(titleStyle.Render("Checks"))
	table := newPlainTable(true)
	table.Row("Kernel", "Input", "Output", "Rel. Error", "Status")
	for _, r := range results {
		st := string(r.status)
		switch r.status {
		case statusPass:
			st = passStyle.Render(st)
		case statusFail:
			st = failStyle.Render(st)
		}
		table.Row(r.kernel, r.input, humanize.Bytes(r.outputBytes), fmt.Sprintf("%.3g", r.relErr), st)
	}
	fmt.Println(table.Render())
	for _, r := range results {
		if r.err != nil {
			klog.Errorf("%s: %+v", r.kernel, r.err)
		}
	}

	fmt.Println(titleStyle.Render("Device"))
	table = newPlainTable(false)
	config := d.Config()
	table.Row("parallelism", humanize.Comma(int64(config.Parallelism)))
	table.Row("max block size", humanize.Comma(int64(config.MaxBlockSize)))
	table.Row("BLAS parallelism", humanize.Comma(int64(config.BLASParallelism)))
	table.Row("allocated", humanize.Bytes(uint64(d.AllocatedBytes())))
	fmt.Println(table.Render())

	fmt.Println(titleStyle.Render("Metrics"))
	table = newPlainTable(true)
	table.Row("Metric", "Labels", "Value")
	families, err := d.Metrics().Gather()
	if err != nil {
		klog.Errorf("Failed to gather device metrics: %+v", err)
		return
	}
	for _, family := range families {
		for _, m := range family.GetMetric() {
			table.Row(family.GetName(), formatLabels(m.GetLabel()), formatValue(family.GetType(), m))
		}
	}
	fmt.Println(table.Render())
}

func formatLabels(labels []*dto.LabelPair) string {
	parts := make([]string, 0, len(labels))
	for _, label := range labels {
		parts = append(parts, fmt.Sprintf("%s=%s", label.GetName(), label.GetValue()))
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

func formatValue(metricType dto.MetricType, m *dto.Metric) string {
	switch metricType {
	case dto.MetricType_COUNTER:
		return humanize.Commaf(m.GetCounter().GetValue())
	case dto.MetricType_GAUGE:
		return humanize.Commaf(m.GetGauge().GetValue())
	case dto.MetricType_HISTOGRAM:
		h := m.GetHistogram()
		return fmt.Sprintf("count=%s, sum=%.3gs", humanize.Comma(int64(h.GetSampleCount())), h.GetSampleSum())
	default:
		return "-"
	}
}
