package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/rivo/uniseg"
)

// LayoutConfig holds the display constants layout hints are computed against.
type LayoutConfig struct {
	BubbleMaxCols          int            `toml:"bubble_max_cols"`
	LandscapeBubbleMaxCols int            `toml:"landscape_bubble_max_cols"`
	CellWidth              float64        `toml:"cell_width"`
	LineHeight             float64        `toml:"line_height"`
	MediaMaxWidth          float64        `toml:"media_max_width"`
	TimeFormat             string         `toml:"time_format"`
	DayFormat              string         `toml:"day_format"`
	Location               *time.Location `toml:"-"`
}

// DefaultLayout mirrors a phone-sized chat bubble.
func DefaultLayout() LayoutConfig {
	return LayoutConfig{
		BubbleMaxCols:          32,
		LandscapeBubbleMaxCols: 56,
		CellWidth:              8,
		LineHeight:             18,
		MediaMaxWidth:          240,
		TimeFormat:             "15:04",
		DayFormat:              "Jan 2, 2006",
	}
}

// Bounds is a width/height box in display units.
type Bounds struct {
	Width  float64
	Height float64
}

// Layout is precomputed so rendering never re-measures a message.
type Layout struct {
	Text          Bounds
	LandscapeText Bounds
	ImageHeight   float64
	VoiceDuration string
	TimeLabel     string
	DayLabel      string
}

// ComputeLayout fills m.Layout from its body and timestamp.
func ComputeLayout(m *Message, cfg LayoutConfig) {
	var l Layout
	switch {
	case m.Text != "":
		l.Text = TextBounds(m.Text, cfg.BubbleMaxCols, cfg)
		l.LandscapeText = TextBounds(m.Text, cfg.LandscapeBubbleMaxCols, cfg)
	case m.ImageWidth > 0 && m.ImageHeight > 0:
		l.ImageHeight = m.ImageHeight / m.ImageWidth * cfg.MediaMaxWidth
	}
	if m.Kind == KindVoice {
		l.VoiceDuration = FormatDuration(m.VoiceSecs)
	}

	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	t := time.Unix(m.Timestamp, 0).In(loc)
	if cfg.TimeFormat != "" {
		l.TimeLabel = t.Format(cfg.TimeFormat)
	}
	if cfg.DayFormat != "" {
		l.DayLabel = t.Format(cfg.DayFormat)
	}
	m.Layout = l
}

// TextBounds wraps text at maxCols terminal cells and measures the result.
func TextBounds(text string, maxCols int, cfg LayoutConfig) Bounds {
	if maxCols <= 0 {
		maxCols = 1
	}
	rows, widest := 0, 0
	for _, line := range strings.Split(text, "\n") {
		w := uniseg.StringWidth(line)
		if w == 0 {
			rows++
			continue
		}
		rows += (w + maxCols - 1) / maxCols
		widest = max(widest, min(w, maxCols))
	}
	return Bounds{
		Width:  float64(widest) * cfg.CellWidth,
		Height: float64(rows) * cfg.LineHeight,
	}
}

// FormatDuration renders seconds as HH:MM:SS.
func FormatDuration(secs int) string {
	if secs < 0 {
		secs = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, secs/60%60, secs%60)
}
