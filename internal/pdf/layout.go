// Package pdf lays images out on A4 pages.
package pdf

import "math"

// A4 in PDF points.
const (
	PageWidth  = 595.28
	PageHeight = 841.89

	// FitRatio is the share of each page axis an image may occupy.
	FitRatio = 0.9
)

// Placement is where an image lands on a page, in points.
type Placement struct {
	X, Y, W, H float64
}

// Fit scales an image of w×h pixels uniformly so that neither side exceeds
// FitRatio of the page, and centers it. Small images are scaled up.
func Fit(w, h int) Placement {
	if w <= 0 || h <= 0 {
		return Placement{}
	}
	scale := math.Min(PageWidth*FitRatio/float64(w), PageHeight*FitRatio/float64(h))
	dw, dh := float64(w)*scale, float64(h)*scale
	return Placement{
		X: (PageWidth - dw) / 2,
		Y: (PageHeight - dh) / 2,
		W: dw,
		H: dh,
	}
}
