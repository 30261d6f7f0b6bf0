package offline

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// StandardScaler standardizes each feature column to zero mean / unit
// variance, mirroring sklearn's StandardScaler (population variance, not
// the N-1 sample estimator) via gonum/stat's population helpers.
// Grounded on clusterer.py's self.scaler.fit_transform call.
type StandardScaler struct {
	means []float64
	stds  []float64
}

// FitTransform fits mean/stddev per column and returns the standardized
// matrix. A zero-variance column standardizes to all zeros rather than
// dividing by zero.
func (s *StandardScaler) FitTransform(rows [][]float64) [][]float64 {
	if len(rows) == 0 {
		return rows
	}
	numFeatures := len(rows[0])
	s.means = make([]float64, numFeatures)
	s.stds = make([]float64, numFeatures)

	col := make([]float64, len(rows))
	for j := 0; j < numFeatures; j++ {
		for i, row := range rows {
			col[i] = row[j]
		}
		mean, variance := stat.PopMeanVariance(col, nil)
		s.means[j] = mean
		if variance <= 0 {
			s.stds[j] = 0
		} else {
			s.stds[j] = math.Sqrt(variance)
		}
	}

	out := make([][]float64, len(rows))
	for i, row := range rows {
		scaled := make([]float64, numFeatures)
		for j, v := range row {
			if s.stds[j] == 0 {
				scaled[j] = 0
				continue
			}
			scaled[j] = (v - s.means[j]) / s.stds[j]
		}
		out[i] = scaled
	}
	return out
}
