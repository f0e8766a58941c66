package nn

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// LogSumExp computes log(sum(exp(v))) with the usual max shift for stability.
func LogSumExp(v []float64) float64 {
	m := floats.Max(v)
	sum := 0.0
	for _, x := range v {
		sum += math.Exp(x - m)
	}
	return m + math.Log(sum)
}

// Softmax writes the softmax of src into dst.
func Softmax(dst, src []float64) {
	lse := LogSumExp(src)
	for i, x := range src {
		dst[i] = math.Exp(x - lse)
	}
}

// CrossEntropy computes the mean cross-entropy between logit rows and integer
// labels, and the logit gradient (softmax minus one-hot, scaled by 1/batch).
func CrossEntropy(logits *mat.Dense, labels []int) (float64, *mat.Dense) {
	rows, cols := logits.Dims()
	grad := mat.NewDense(rows, cols, nil)
	probs := make([]float64, cols)
	loss := 0.0
	inv := 1.0 / float64(rows)
	for i := 0; i < rows; i++ {
		row := mat.Row(nil, i, logits)
		lse := LogSumExp(row)
		loss += (lse - row[labels[i]]) * inv
		Softmax(probs, row)
		for j := 0; j < cols; j++ {
			grad.Set(i, j, probs[j]*inv)
		}
		grad.Set(i, labels[i], grad.At(i, labels[i])-inv)
	}
	return loss, grad
}

// Predictions returns the argmax class of each logit row.
func Predictions(logits *mat.Dense) []int {
	rows, _ := logits.Dims()
	preds := make([]int, rows)
	for i := 0; i < rows; i++ {
		preds[i] = floats.MaxIdx(mat.Row(nil, i, logits))
	}
	return preds
}
