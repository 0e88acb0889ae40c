package model

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/stat"
)

// Accuracy is the share of probabilities on the correct side of 0.5.
func Accuracy(probs, labels []float64) float64 {
	if len(probs) == 0 {
		return 0
	}
	correct := 0
	for i, p := range probs {
		if (p > 0.5) == (labels[i] > 0.5) {
			correct++
		}
	}
	return float64(correct) / float64(len(probs))
}

// AUC is the area under the ROC curve. It is 0 when only one class is present.
func AUC(probs, labels []float64) float64 {
	if len(probs) == 0 {
		return 0
	}
	scores := make([]float64, len(probs))
	copy(scores, probs)
	classes := make([]bool, len(labels))
	pos := 0
	for i, l := range labels {
		classes[i] = l > 0.5
		if classes[i] {
			pos++
		}
	}
	if pos == 0 || pos == len(labels) {
		return 0
	}

	stat.SortWeightedLabeled(scores, classes, nil)
	tpr, fpr, _ := stat.ROC(nil, scores, classes, nil)
	return integrate.Trapezoidal(fpr, tpr)
}

// BinaryCrossEntropy is the mean log loss with probabilities clipped away
// from 0 and 1.
func BinaryCrossEntropy(probs, labels []float64) float64 {
	if len(probs) == 0 {
		return 0
	}
	const eps = 1e-7
	losses := make([]float64, len(probs))
	for i, p := range probs {
		p = math.Min(math.Max(p, eps), 1-eps)
		losses[i] = -(labels[i]*math.Log(p) + (1-labels[i])*math.Log(1-p))
	}
	return floats.Sum(losses) / float64(len(losses))
}
