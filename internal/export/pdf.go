// Package export renders a room's drawing history to portable formats.
package export

import (
	"fmt"
	"io"
	"strconv"

	"github.com/jung-kurt/gofpdf"

	"github.com/atharvgk/agkcanvas/internal/state"
)

// Canvas pixels per PDF millimeter.
const pdfScale = 3

// PDF writes the visible strokes of a snapshot as an A4 landscape vector
// drawing. Revoked operations and eraser strokes are skipped.
func PDF(w io.Writer, ops []state.Operation) error {
	p := gofpdf.New("L", "mm", "A4", "")
	p.AddPage()

	for _, op := range ops {
		if op.Revoked || op.Tool == state.ToolEraser || len(op.Points) < 2 {
			continue
		}
		red, green, blue, err := parseHexColor(op.Color)
		if err != nil {
			red, green, blue = 0, 0, 0
		}
		p.SetDrawColor(red, green, blue)
		width := op.Size / pdfScale
		if width < 0.2 {
			width = 0.2
		}
		p.SetLineWidth(width)

		for i := 1; i < len(op.Points); i++ {
			p.Line(
				op.Points[i-1].X/pdfScale, op.Points[i-1].Y/pdfScale,
				op.Points[i].X/pdfScale, op.Points[i].Y/pdfScale,
			)
		}
	}

	return p.Output(w)
}

func parseHexColor(s string) (r, g, b int, err error) {
	if len(s) != 7 || s[0] != '#' {
		return 0, 0, 0, fmt.Errorf("bad color %q", s)
	}
	for i, dst := range []*int{&r, &g, &b} {
		v, perr := strconv.ParseUint(s[1+i*2:3+i*2], 16, 8)
		if perr != nil {
			return 0, 0, 0, fmt.Errorf("bad color %q: %w", s, perr)
		}
		*dst = int(v)
	}
	return r, g, b, nil
}
