package tui

import (
	"fmt"
	"io"
)

var bannerLines = []struct {
	text  string
	color string
}{
	{"                     _            _    __ _               ", "#34d399"},
	{"  _ __  _ __ ___  __| |_   _  ___| |_ / _| | _____      __", "#2dd4bf"},
	{" | '_ \\| '__/ _ \\/ _` | | | |/ __| __| |_| |/ _ \\ \\ /\\ / /", "#22d3ee"},
	{" | |_) | | | (_) | (_| | |_| | (__| |_|  _| | (_) \\ V  V / ", "#38bdf8"},
	{" | .__/|_|  \\___/ \\__,_|\\__,_|\\___|\\__|_| |_|\\___/ \\_/\\_/  ", "#60a5fa"},
	{" |_|                                                      ", "#818cf8"},
}

// PrintBanner writes the productflow banner to w, colored when w is a terminal.
func PrintBanner(w io.Writer, version string) {
	p := profileFor(w)
	fmt.Fprintln(w)
	for _, l := range bannerLines {
		fmt.Fprintln(w, p.String(l.text).Foreground(p.Color(l.color)))
	}
	fmt.Fprintln(w, p.String("  product onboarding orchestrator "+version).Faint())
	fmt.Fprintln(w)
}
