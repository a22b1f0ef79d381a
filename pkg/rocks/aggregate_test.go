package rocks

import (
	"math"
	"testing"

	"github.com/matryer/is"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestWeightedAverageWithoutErrorsIsTheArithmeticMean(t *testing.T) {
	is := is.New(t)

	estimate := WeightedAverage([]float64{1, 2, 3, 4}, nil)

	is.True(almostEqual(estimate.Mean, 2.5))
	is.True(almostEqual(estimate.Uncertainty, math.Sqrt(1.0/4)))
	is.Equal(len(estimate.Advisories), 1)
	is.Equal(estimate.Advisories[0].Code, AdvisoryUniformWeights)
}

func TestWeightedAverageWithEqualErrors(t *testing.T) {
	is := is.New(t)

	estimate := WeightedAverage([]float64{10, 20}, []float64{1, 1})

	is.True(almostEqual(estimate.Mean, 15))
	is.True(almostEqual(estimate.Uncertainty, math.Sqrt(0.5)))
	is.Equal(len(estimate.Advisories), 0)
}

func TestWeightingShiftsTheMeanTowardTheLowErrorValue(t *testing.T) {
	is := is.New(t)

	estimate := WeightedAverage([]float64{10, 20}, []float64{1, 10})

	// w = [1, 0.01] so the mean lands just above the low error measurement
	is.True(math.Abs(estimate.Mean-10.099) < 0.001)
	is.True(estimate.Mean < 11)
}

func TestZeroErrorsAreExcludedFromWeighting(t *testing.T) {
	is := is.New(t)

	estimate := WeightedAverage([]float64{10, 20, 30}, []float64{1, 0, 1})

	// the zero error entry must not contribute
	is.True(almostEqual(estimate.Mean, 20))
	is.Equal(len(estimate.Advisories), 0)
}

func TestAllZeroErrorsDegradeToUniformWeights(t *testing.T) {
	is := is.New(t)

	estimate := WeightedAverage([]float64{10, 20}, []float64{0, 0})

	is.True(almostEqual(estimate.Mean, 15))
	is.Equal(len(estimate.Advisories), 1)
	is.Equal(estimate.Advisories[0].Code, AdvisoryUniformWeights)
}

func TestMismatchedLengthsPanic(t *testing.T) {
	is := is.New(t)

	defer func() {
		is.True(recover() != nil)
	}()

	WeightedAverage([]float64{1, 2}, []float64{1})
}

func TestEmptyValueSetPanics(t *testing.T) {
	is := is.New(t)

	defer func() {
		is.True(recover() != nil)
	}()

	WeightedAverage(nil, nil)
}

func TestWeightedAverageOfCatalogueColumns(t *testing.T) {
	is := is.New(t)

	catalogue := NewColumnCatalogue("diameters", []map[string]any{
		{"diameter": 840.0, "err_diameter": 10.0, "method": "ADAM"},
		{"diameter": 850.0, "err_diameter": 10.0, "method": "SPHERE"},
	})

	estimate, err := WeightedAverageOf(catalogue, "diameter", "err_diameter")
	is.NoErr(err)
	is.True(almostEqual(estimate.Mean, 845))

	_, err = WeightedAverageOf(catalogue, "method", "")
	is.True(err != nil) // text columns can not be aggregated

	_, err = WeightedAverageOf(catalogue, "no_such_column", "")
	is.True(err != nil)
}
