package tui

import (
	"fmt"
	"io"

	"github.com/muesli/termenv"
)

var bannerLines = []string{
	" _   _                        _ _ _            ",
	"| |_| |__  _ __ ___  __ _  __| | (_)_ __   ___ ",
	"| __| '_ \\| '__/ _ \\/ _` |/ _` | | | '_ \\ / _ \\",
	"| |_| | | | | |  __/ (_| | (_| | | | | | |  __/",
	" \\__|_| |_|_|  \\___|\\__,_|\\__,_|_|_|_| |_|\\___|",
}

// Indigo to rose, one shade per line.
var bannerColors = []string{"#818cf8", "#a78bfa", "#c084fc", "#e879f9", "#f472b6"}

// PrintBanner writes the threadline banner followed by a subtitle line.
// Colours are dropped when w is not a colour terminal.
func PrintBanner(w io.Writer, subtitle string) {
	out := termenv.NewOutput(w)
	p := out.ColorProfile()

	fmt.Fprintln(w)
	for i, line := range bannerLines {
		fmt.Fprintln(w, out.String(line).Foreground(p.Color(bannerColors[i])))
	}
	if subtitle != "" {
		fmt.Fprintln(w, out.String("  "+subtitle).Faint())
	}
	fmt.Fprintln(w)
}
