package tui

import (
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/jrwynneiii/sdrfifo/pipeline"
	"github.com/rivo/tview"
	"hz.tools/rf"
)

// Source describes one running pipeline to the monitor.
type Source struct {
	Stats        *pipeline.Stats
	Fifo         string
	BlockLen     int
	HwBlockLen   int
	SampleRate   rf.Hz
	Coefficients string
}

type PipelineTableData struct {
	tview.TableContentReadOnly
}

type SettingsTableData struct {
	tview.TableContentReadOnly
}

type pipelineRow struct {
	snap pipeline.Snapshot
	rate float64
	lag  float64
}

var (
	sources []Source
	rows    []pipelineRow
)

// lagPercent is the share of samples the hardware should have moved since streaming started but
// did not.
func lagPercent(snap pipeline.Snapshot, hwBlockLen int, rate rf.Hz) float64 {
	if snap.Uptime <= 0 || rate <= 0 {
		return 0
	}
	expected := float64(rate) * snap.Uptime.Seconds()
	moved := float64(snap.Transfers) * float64(hwBlockLen)
	lag := (1 - moved/expected) * 100
	return max(min(lag, 100), 0)
}

// blockRate is the number of application blocks per second between two snapshots.
func blockRate(prev, cur pipeline.Snapshot, dt time.Duration) float64 {
	if dt <= 0 || cur.Blocks < prev.Blocks {
		return 0
	}
	return float64(cur.Blocks-prev.Blocks) / dt.Seconds()
}

// pushPoint appends v to a rolling series of at most n points.
func pushPoint(series []float64, v float64, n int) []float64 {
	series = append(series, v)
	if len(series) > n {
		series = series[len(series)-n:]
	}
	return series
}

func stateColor(s pipeline.State) string {
	switch s {
	case pipeline.Streaming:
		return "[green]"
	case pipeline.Configuring, pipeline.Draining:
		return "[yellow]"
	}
	return "[red]"
}

func (d *PipelineTableData) GetRowCount() int {
	return len(rows) + 1
}

func (d *PipelineTableData) GetColumnCount() int {
	return 6
}

func (d *PipelineTableData) GetCell(row, column int) *tview.TableCell {
	if row == 0 {
		switch column {
		case 0:
			return tview.NewTableCell("[lightskyblue]Pipeline ")
		case 1:
			return tview.NewTableCell("[white]State ")
		case 2:
			return tview.NewTableCell("[green]Blocks ")
		case 3:
			return tview.NewTableCell("[green]HW Transfers ")
		case 4:
			return tview.NewTableCell("[green]Tokens ")
		case 5:
			return tview.NewTableCell("[white]Blocks/s")
		}
		return tview.NewTableCell("ERROR")
	}

	r := rows[row-1]
	switch column {
	case 0:
		return tview.NewTableCell(fmt.Sprintf("[lightskyblue]%s", r.snap.Name))
	case 1:
		return tview.NewTableCell(stateColor(r.snap.State) + r.snap.State.String())
	case 2:
		return tview.NewTableCell(fmt.Sprintf("%d", r.snap.Blocks))
	case 3:
		return tview.NewTableCell(fmt.Sprintf("%d", r.snap.Transfers))
	case 4:
		return tview.NewTableCell(fmt.Sprintf("%d", r.snap.Tokens))
	case 5:
		return tview.NewTableCell(fmt.Sprintf("%.1f", r.rate))
	}
	return tview.NewTableCell("ERROR")
}

func (s *SettingsTableData) GetRowCount() int {
	return 4 * len(sources)
}

func (s *SettingsTableData) GetColumnCount() int {
	return 2
}

func (s *SettingsTableData) GetCell(row, column int) *tview.TableCell {
	src := sources[row/4]
	name := src.Stats.Snapshot().Name
	switch row % 4 {
	case 0:
		if column == 0 {
			return tview.NewTableCell(fmt.Sprintf("[lightskyblue]%s FIFO:", name))
		}
		return tview.NewTableCell(src.Fifo)
	case 1:
		if column == 0 {
			return tview.NewTableCell("Block / HW block:")
		}
		return tview.NewTableCell(fmt.Sprintf("%d / %d", src.BlockLen, src.HwBlockLen))
	case 2:
		if column == 0 {
			return tview.NewTableCell("Sample rate:")
		}
		return tview.NewTableCell(src.SampleRate.String())
	case 3:
		if column == 0 {
			return tview.NewTableCell("Correction:")
		}
		return tview.NewTableCell(src.Coefficients).SetTextColor(tcell.ColorGray)
	}
	return tview.NewTableCell("ERROR")
}
