// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/nlpodyssey/paramexport"
)

var (
	headerRowStyle = lipgloss.NewStyle().Bold(true).
			Padding(0, 1).Align(lipgloss.Center)
	cellStyle = lipgloss.NewStyle().Padding(0, 1)

	titleStyle = lipgloss.NewStyle().Bold(true)
)

func newTable(headers ...string) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == lgtable.HeaderRow {
				return headerRowStyle
			}
			return cellStyle
		})
}

// renderReport lists saved files by section.
func renderReport(r paramexport.Report) string {
	table := newTable("Section", "Name", "Kind", "File", "Size")
	for _, s := range r.Sections {
		for _, v := range s.Saved {
			table.Row(s.Category.String(), v.Name, v.Kind.String(), filepath.Base(v.Path), humanize.Bytes(uint64(v.Size)))
		}
	}
	return table.Render()
}

// renderRecords describes the records decoded from one file.
func renderRecords(path string, size int64, records []paramexport.Record, numValues int) string {
	table := newTable("#", "Shape", "Elements", "Values")
	for i, rec := range records {
		table.Row(
			fmt.Sprint(i),
			fmt.Sprint(rec.Shape),
			humanize.Comma(int64(rec.Size())),
			previewValues(rec.Values, numValues),
		)
	}
	title := titleStyle.Render(fmt.Sprintf("%s (%s)", path, humanize.Bytes(uint64(size))))
	return title + "\n" + table.Render()
}

func previewValues(values []float32, n int) string {
	if n <= 0 {
		return ""
	}
	var sb strings.Builder
	for i, v := range values {
		if i == n {
			sb.WriteString(" ...")
			break
		}
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(fmt.Sprintf("%g", v))
	}
	return sb.String()
}
