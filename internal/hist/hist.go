// Package hist implements fixed-binning one-dimensional histograms with
// underflow and overflow bins.
package hist

import (
	"fmt"
	"math"

	"github.com/goccy/go-json"
	"github.com/paveg/tachyon/internal/wire"
)

// Model describes the binning of a histogram.
type Model struct {
	Name  string  `json:"name" yaml:"name"`
	Title string  `json:"title,omitempty" yaml:"title,omitempty"`
	NBins int     `json:"nbins" yaml:"nbins"`
	Min   float64 `json:"min" yaml:"min"`
	Max   float64 `json:"max" yaml:"max"`
}

// Validate checks that the model describes a usable binning.
func (m Model) Validate() error {
	if m.NBins <= 0 {
		return fmt.Errorf("histogram %q: number of bins must be positive, got %d", m.Name, m.NBins)
	}
	if math.IsNaN(m.Min) || math.IsNaN(m.Max) || math.IsInf(m.Min, 0) || math.IsInf(m.Max, 0) {
		return fmt.Errorf("histogram %q: axis limits must be finite", m.Name)
	}
	if m.Max <= m.Min {
		return fmt.Errorf("histogram %q: max (%g) must be greater than min (%g)", m.Name, m.Max, m.Min)
	}
	return nil
}

// H1 is a one-dimensional histogram. Counts and SumW2 hold NBins+2 entries:
// index 0 is the underflow bin and index NBins+1 the overflow bin.
type H1 struct {
	Model   Model
	Counts  []float64
	SumW2   []float64
	Entries int64

	// in-range moments for Mean and StdDev
	SumW   float64
	SumWX  float64
	SumWX2 float64
}

// New creates an empty histogram. The model must be valid.
func New(m Model) *H1 {
	return &H1{
		Model:  m,
		Counts: make([]float64, m.NBins+2),
		SumW2:  make([]float64, m.NBins+2),
	}
}

// FindBin returns the bin index for x, including under/overflow.
func (h *H1) FindBin(x float64) int {
	switch {
	case math.IsNaN(x):
		return h.Model.NBins + 1
	case x < h.Model.Min:
		return 0
	case x >= h.Model.Max:
		return h.Model.NBins + 1
	}
	bin := 1 + int(float64(h.Model.NBins)*(x-h.Model.Min)/(h.Model.Max-h.Model.Min))
	return min(bin, h.Model.NBins)
}

// Fill adds x with weight w.
func (h *H1) Fill(x, w float64) {
	bin := h.FindBin(x)
	h.Counts[bin] += w
	h.SumW2[bin] += w * w
	h.Entries++
	if bin >= 1 && bin <= h.Model.NBins {
		h.SumW += w
		h.SumWX += w * x
		h.SumWX2 += w * x * x
	}
}

// Add merges other into h bin by bin. Both histograms must share binning.
func (h *H1) Add(other *H1) error {
	if !h.Compatible(other) {
		return fmt.Errorf("cannot add histogram %q with incompatible binning", other.Model.Name)
	}
	for i := range h.Counts {
		h.Counts[i] += other.Counts[i]
		h.SumW2[i] += other.SumW2[i]
	}
	h.Entries += other.Entries
	h.SumW += other.SumW
	h.SumWX += other.SumWX
	h.SumWX2 += other.SumWX2
	return nil
}

// Compatible reports whether two histograms have the same binning.
func (h *H1) Compatible(other *H1) bool {
	return h.Model.NBins == other.Model.NBins &&
		h.Model.Min == other.Model.Min &&
		h.Model.Max == other.Model.Max &&
		len(other.Counts) == len(h.Counts)
}

// BinContent returns the content of bin i (0 underflow, NBins+1 overflow).
func (h *H1) BinContent(i int) float64 {
	return h.Counts[i]
}

// BinError returns the statistical error of bin i.
func (h *H1) BinError(i int) float64 {
	return math.Sqrt(h.SumW2[i])
}

// BinCenter returns the center of in-range bin i.
func (h *H1) BinCenter(i int) float64 {
	width := h.BinWidth()
	return h.Model.Min + (float64(i)-0.5)*width
}

// BinWidth returns the width of each bin.
func (h *H1) BinWidth() float64 {
	return (h.Model.Max - h.Model.Min) / float64(h.Model.NBins)
}

// Integral returns the sum of in-range bin contents.
func (h *H1) Integral() float64 {
	var sum float64
	for _, c := range h.Counts[1 : h.Model.NBins+1] {
		sum += c
	}
	return sum
}

// Mean returns the weighted mean of in-range fills.
func (h *H1) Mean() float64 {
	if h.SumW == 0 {
		return 0
	}
	return h.SumWX / h.SumW
}

// StdDev returns the weighted standard deviation of in-range fills.
func (h *H1) StdDev() float64 {
	if h.SumW == 0 {
		return 0
	}
	mean := h.Mean()
	v := h.SumWX2/h.SumW - mean*mean
	if v < 0 {
		return 0
	}
	return math.Sqrt(v)
}

// Clone returns a deep copy of h.
func (h *H1) Clone() *H1 {
	cp := *h
	cp.Counts = append([]float64(nil), h.Counts...)
	cp.SumW2 = append([]float64(nil), h.SumW2...)
	return &cp
}

type h1JSON struct {
	Model   Model        `json:"model"`
	Counts  []wire.Float `json:"counts"`
	SumW2   []wire.Float `json:"sumw2"`
	Entries int64        `json:"entries"`
	SumW    wire.Float   `json:"sumw"`
	SumWX   wire.Float   `json:"sumwx"`
	SumWX2  wire.Float   `json:"sumwx2"`
}

// MarshalJSON encodes h, including non-finite bin contents and moments.
func (h *H1) MarshalJSON() ([]byte, error) {
	return json.Marshal(h1JSON{
		Model:   h.Model,
		Counts:  wire.Floats(h.Counts),
		SumW2:   wire.Floats(h.SumW2),
		Entries: h.Entries,
		SumW:    wire.Float(h.SumW),
		SumWX:   wire.Float(h.SumWX),
		SumWX2:  wire.Float(h.SumWX2),
	})
}

func (h *H1) UnmarshalJSON(b []byte) error {
	var w h1JSON
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*h = H1{
		Model:   w.Model,
		Counts:  wire.Float64s(w.Counts),
		SumW2:   wire.Float64s(w.SumW2),
		Entries: w.Entries,
		SumW:    float64(w.SumW),
		SumWX:   float64(w.SumWX),
		SumWX2:  float64(w.SumWX2),
	}
	return nil
}

func (h *H1) String() string {
	return fmt.Sprintf("H1[%s: %d bins in [%g, %g), entries=%d, integral=%g]",
		h.Model.Name, h.Model.NBins, h.Model.Min, h.Model.Max, h.Entries, h.Integral())
}
