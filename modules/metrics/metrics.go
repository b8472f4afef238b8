package metrics

import (
	"math"
	"sort"
)

func mean(xs []float64) float64 {
	var s float64
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}

// Pearson is the correlation coefficient of pred and target. It is NaN
// for fewer than two points or a constant input.
func Pearson(pred, target []float64) float64 {
	if len(pred) < 2 || len(pred) != len(target) {
		return math.NaN()
	}
	mp, mt := mean(pred), mean(target)
	var cov, vp, vt float64
	for i := range pred {
		dp, dt := pred[i]-mp, target[i]-mt
		cov += dp * dt
		vp += dp * dp
		vt += dt * dt
	}
	if vp == 0 || vt == 0 {
		return math.NaN()
	}
	return cov / math.Sqrt(vp*vt)
}

// MSE is the mean squared error.
func MSE(pred, target []float64) float64 {
	if len(pred) == 0 || len(pred) != len(target) {
		return math.NaN()
	}
	var s float64
	for i := range pred {
		d := pred[i] - target[i]
		s += d * d
	}
	return s / float64(len(pred))
}

// MAE is the mean absolute error.
func MAE(pred, target []float64) float64 {
	if len(pred) == 0 || len(pred) != len(target) {
		return math.NaN()
	}
	var s float64
	for i := range pred {
		s += math.Abs(pred[i] - target[i])
	}
	return s / float64(len(pred))
}

// R2 is the coefficient of determination. It is NaN for a constant target.
func R2(pred, target []float64) float64 {
	if len(pred) == 0 || len(pred) != len(target) {
		return math.NaN()
	}
	mt := mean(target)
	var res, tot float64
	for i := range pred {
		res += (target[i] - pred[i]) * (target[i] - pred[i])
		tot += (target[i] - mt) * (target[i] - mt)
	}
	if tot == 0 {
		return math.NaN()
	}
	return 1 - res/tot
}

// ranked returns the indices of pred in decreasing score order.
func ranked(pred []float64) []int {
	idx := make([]int, len(pred))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return pred[idx[a]] > pred[idx[b]] })
	return idx
}

func countPositives(target []float64) int {
	n := 0
	for _, t := range target {
		if t >= 0.5 {
			n++
		}
	}
	return n
}

// ROCAUC is the area under the ROC curve for binary targets (>= 0.5 is
// positive), with tied scores counted as half. It is NaN when only one
// class is present.
func ROCAUC(pred, target []float64) float64 {
	if len(pred) != len(target) {
		return math.NaN()
	}
	pos := countPositives(target)
	neg := len(target) - pos
	if pos == 0 || neg == 0 {
		return math.NaN()
	}
	// Mann-Whitney U with average ranks over ties, ascending.
	idx := ranked(pred)
	var rankSum float64
	for i := 0; i < len(idx); {
		j := i
		for j < len(idx) && pred[idx[j]] == pred[idx[i]] {
			j++
		}
		// Descending positions i..j-1 are ascending ranks n-j+1..n-i.
		avg := float64(2*len(idx)-i-j+1) / 2
		for k := i; k < j; k++ {
			if target[idx[k]] >= 0.5 {
				rankSum += avg
			}
		}
		i = j
	}
	u := rankSum - float64(pos*(pos+1))/2
	return u / float64(pos*neg)
}

// AveragePrecision is the mean precision at each positive in decreasing
// score order, with tied scores treated as one threshold. It is NaN
// without positives.
func AveragePrecision(pred, target []float64) float64 {
	if len(pred) != len(target) {
		return math.NaN()
	}
	pos := countPositives(target)
	if pos == 0 {
		return math.NaN()
	}
	idx := ranked(pred)
	var ap float64
	tp, seen, prevRecall := 0, 0, 0.0
	for i := 0; i < len(idx); {
		j := i
		for j < len(idx) && pred[idx[j]] == pred[idx[i]] {
			if target[idx[j]] >= 0.5 {
				tp++
			}
			j++
		}
		seen = j
		recall := float64(tp) / float64(pos)
		ap += (recall - prevRecall) * float64(tp) / float64(seen)
		prevRecall = recall
		i = j
	}
	return ap
}
