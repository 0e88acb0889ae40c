package training

import (
	"bytes"
	"fmt"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/Brownie44l1/forgery-api/internal/model"
)

// PlotHistory renders the accuracy and loss curves side by side as a PNG.
func PlotHistory(epochs []model.EpochMetrics) ([]byte, error) {
	if len(epochs) == 0 {
		return nil, fmt.Errorf("no epochs to plot")
	}

	acc, err := curvePlot("Model Accuracy", "Accuracy", epochs,
		func(m model.EpochMetrics) (float64, float64) { return m.Accuracy, m.ValAccuracy })
	if err != nil {
		return nil, err
	}
	loss, err := curvePlot("Model Loss", "Loss", epochs,
		func(m model.EpochMetrics) (float64, float64) { return m.Loss, m.ValLoss })
	if err != nil {
		return nil, err
	}

	img := vgimg.New(12*vg.Inch, 4*vg.Inch)
	dc := draw.New(img)
	tiles := draw.Tiles{
		Rows:      1,
		Cols:      2,
		PadX:      vg.Millimeter * 4,
		PadTop:    vg.Millimeter * 2,
		PadBottom: vg.Millimeter * 2,
		PadLeft:   vg.Millimeter * 2,
		PadRight:  vg.Millimeter * 2,
	}
	canvases := plot.Align([][]*plot.Plot{{acc, loss}}, tiles, dc)
	acc.Draw(canvases[0][0])
	loss.Draw(canvases[0][1])

	var buf bytes.Buffer
	if _, err := (vgimg.PngCanvas{Canvas: img}).WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to encode plot: %w", err)
	}
	return buf.Bytes(), nil
}

func curvePlot(title, ylabel string, epochs []model.EpochMetrics, values func(model.EpochMetrics) (train, val float64)) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Epoch"
	p.Y.Label.Text = ylabel
	p.Legend.Top = true

	train := make(plotter.XYs, len(epochs))
	val := make(plotter.XYs, len(epochs))
	for i, m := range epochs {
		t, v := values(m)
		train[i].X, train[i].Y = float64(m.Epoch), t
		val[i].X, val[i].Y = float64(m.Epoch), v
	}
	if err := plotutil.AddLinePoints(p, "Training", train, "Validation", val); err != nil {
		return nil, fmt.Errorf("failed to add %s curves: %w", ylabel, err)
	}
	return p, nil
}
