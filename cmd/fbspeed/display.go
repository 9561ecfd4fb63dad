package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/NodePath81/fbspeed/internal/engine"
	"github.com/NodePath81/fbspeed/internal/util"
	"github.com/olekukonko/tablewriter"
)

const (
	barWidth         = 20
	progressThrottle = 100 * time.Millisecond
	unavailable      = "unavailable"
)

// progressPrinter draws a single-line bar for the current phase.
type progressPrinter struct {
	out     io.Writer
	enabled bool
	phase   engine.Phase
	last    time.Time
	drawn   bool
}

func newProgressPrinter(out io.Writer, enabled bool) *progressPrinter {
	return &progressPrinter{out: out, enabled: enabled}
}

func (p *progressPrinter) update(snap engine.Snapshot) {
	if !p.enabled || !snap.Phase.Running() {
		return
	}
	now := time.Now()
	if snap.Phase != p.phase {
		if p.drawn {
			fmt.Fprint(p.out, "\n")
		}
		p.phase = snap.Phase
	} else if now.Sub(p.last) < progressThrottle {
		return
	}
	p.last = now
	p.drawn = true
	fmt.Fprintf(p.out, "\r%s\033[K", progressLine(snap))
}

func (p *progressPrinter) finish() {
	if p.enabled && p.drawn {
		fmt.Fprint(p.out, "\r\033[K")
	}
	p.drawn = false
}

func progressLine(snap engine.Snapshot) string {
	status := "probing"
	if snap.Phase == engine.PhaseDownload || snap.Phase == engine.PhaseUpload {
		status = util.FormatMbps(snap.InstantaneousMbps)
	}
	return fmt.Sprintf("%-8s [%s] %3.0f%% | %s", snap.Phase, renderBar(snap.Progress), snap.Progress, status)
}

// renderBar maps progress in [0, 100] onto a fixed-width bar.
func renderBar(progress float64) string {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	filled := int(progress / 100 * barWidth)
	return strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)
}

func resultRows(snap engine.Snapshot) [][]string {
	res := snap.Results
	measured := func(ok bool, value string) string {
		if !ok {
			return unavailable
		}
		return value
	}
	rows := [][]string{
		{"Ping", measured(res.PingMeasured, util.FormatMs(res.PingMs))},
		{"Jitter", measured(res.PingMeasured, util.FormatMs(res.JitterMs))},
		{"Download", measured(res.DownloadMeasured, util.FormatMbps(res.DownloadMbps))},
		{"Upload", measured(res.UploadMeasured, util.FormatMbps(res.UploadMbps))},
	}
	ep := snap.Endpoint
	if ep.Host != "" {
		host := ep.Host
		if ep.IP != "" && ep.IP != ep.Host {
			host = fmt.Sprintf("%s (%s)", ep.Host, ep.IP)
		}
		rows = append(rows, []string{"Endpoint", host})
	}
	if ep.Interface != "" {
		rows = append(rows, []string{"Interface", ep.Interface})
	}
	if loc := joinNonEmpty(", ", ep.City, ep.Country); loc != "" {
		rows = append(rows, []string{"Location", loc})
	}
	if ep.ASN != 0 {
		rows = append(rows, []string{"Network", strings.TrimSpace(fmt.Sprintf("AS%d %s", ep.ASN, ep.ASOrg))})
	}
	return rows
}

func renderResults(out io.Writer, snap engine.Snapshot) {
	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"METRIC", "VALUE"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(resultRows(snap))
	table.Render()
}

func joinNonEmpty(sep string, parts ...string) string {
	kept := parts[:0:0]
	for _, part := range parts {
		if part != "" {
			kept = append(kept, part)
		}
	}
	return strings.Join(kept, sep)
}
