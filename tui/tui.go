package tui

import (
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gdamore/tcell/v2"
	"github.com/jrwynneiii/sdrfifo/config"
	"github.com/jrwynneiii/sdrfifo/pipeline"
	"github.com/navidys/tvxwidgets"
	"github.com/rivo/tview"
)

var LogOut *tview.TextView

func newLagGauge(name string, tuiConf config.TuiConf) *tvxwidgets.UtilModeGauge {
	gauge := tvxwidgets.NewUtilModeGauge()
	gauge.SetLabel(fmt.Sprintf("%-4s sample lag:   ", name))
	gauge.SetLabelColor(tcell.ColorLightSkyBlue)
	gauge.SetWarnPercentage(tuiConf.LagWarnPct)
	gauge.SetCritPercentage(tuiConf.LagCritPct)
	gauge.SetEmptyColor(tcell.ColorBlack)
	gauge.SetBorder(false)
	return gauge
}

// StartUI shows the pipeline monitor and blocks until the user quits with q or Ctrl-C, in which case
// onExit runs, or until done is closed.
func StartUI(srcs []Source, tuiConf config.TuiConf, done <-chan struct{}, onExit func()) {
	app := tview.NewApplication()
	sources = srcs
	rows = make([]pipelineRow, len(srcs))

	LogOut = tview.NewTextView().
		SetDynamicColors(true).
		SetRegions(true).
		SetWordWrap(true)

	pipelineStats := tview.NewTable().SetContent(&PipelineTableData{})
	settingsTable := tview.NewTable().SetContent(&SettingsTableData{})

	ratePlot := tvxwidgets.NewPlot()
	ratePlot.SetLineColor([]tcell.Color{tcell.ColorLightSkyBlue, tcell.ColorOrange})
	ratePlot.SetMarker(tvxwidgets.PlotMarkerBraille)
	ratePlot.SetBorder(true)
	ratePlot.SetTitle("Blocks/s")

	gaugeBox := tview.NewFlex()
	gaugeBox.SetDirection(tview.FlexRow)
	gauges := make([]*tvxwidgets.UtilModeGauge, len(srcs))
	for i, src := range srcs {
		gauges[i] = newLagGauge(src.Stats.Snapshot().Name, tuiConf)
		gaugeBox.AddItem(gauges[i], 0, 1, false)
	}
	gaugeBox.SetTitle("Hardware Stream")
	gaugeBox.SetBorder(true)

	LogOut.SetChangedFunc(func() {
		LogOut.ScrollToEnd()
		app.Draw()
	})
	LogOut.SetBorder(true).SetTitle("Log Output")
	log.SetOutput(LogOut)

	pipelineStats.SetSelectable(false, false).SetBorder(true).SetTitle("Pipelines")
	settingsTable.SetSelectable(false, false).SetBorder(true).SetTitle("Settings")

	page := tview.NewFlex().SetDirection(tview.FlexColumn)

	leftCol := tview.NewFlex().SetDirection(tview.FlexRow)
	leftCol.AddItem(pipelineStats, 0, 1, false)
	leftCol.AddItem(settingsTable, 0, 2, false)

	rightCol := tview.NewFlex().SetDirection(tview.FlexRow)
	rightCol.AddItem(gaugeBox, 0, 1, false)
	rightCol.AddItem(ratePlot, 0, 2, false)
	if tuiConf.EnableLogOutput {
		rightCol.AddItem(LogOut, 0, 2, false)
	}

	page.AddItem(leftCol, 0, 2, false)
	page.AddItem(rightCol, 0, 3, false)

	quitByUser := false
	app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyCtrlC || event.Rune() == 'q' {
			quitByUser = true
			app.Stop()
			return nil
		}
		return event
	})

	refresh := time.Duration(tuiConf.RefreshMs) * time.Millisecond
	quit := make(chan struct{})
	go func() {
		prev := make([]pipeline.Snapshot, len(srcs))
		series := make([][]float64, len(srcs))
		last := time.Now()
		ticker := time.NewTicker(refresh)
		defer ticker.Stop()
		for {
			select {
			case <-quit:
				return
			case <-done:
				app.QueueUpdate(app.Stop)
				return
			case now := <-ticker.C:
				dt := now.Sub(last)
				last = now
				next := make([]pipelineRow, len(srcs))
				for i, src := range srcs {
					snap := src.Stats.Snapshot()
					next[i] = pipelineRow{
						snap: snap,
						rate: blockRate(prev[i], snap, dt),
						lag:  lagPercent(snap, src.HwBlockLen, src.SampleRate),
					}
					prev[i] = snap
					series[i] = pushPoint(series[i], next[i].rate, tuiConf.PlotPoints)
				}
				data := make([][]float64, len(series))
				for i := range series {
					data[i] = append([]float64(nil), series[i]...)
				}
				app.QueueUpdateDraw(func() {
					rows = next
					for i, g := range gauges {
						g.SetValue(next[i].lag)
					}
					ratePlot.SetData(data)
				})
			}
		}
	}()

	err := app.SetRoot(page, true).EnableMouse(true).Run()
	close(quit)
	log.SetOutput(os.Stderr)
	if err != nil {
		log.Fatalf("Could not start UI: %v", err)
	}
	if quitByUser && onExit != nil {
		onExit()
	}
}
