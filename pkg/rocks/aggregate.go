package rocks

import (
	"math"
)

// Advisory is a non fatal diagnostic attached to a result instead of being
// raised as an error.
type Advisory struct {
	Code    string
	Message string
}

const (
	AdvisoryUniformWeights        string = "uniform-weights"
	AdvisoryIdentifierNotFound    string = "identifier-not-found"
	AdvisoryNoCard                string = "no-card"
	AdvisoryMissingCatalogue      string = "missing-catalogue"
	AdvisorySchemaVersionMismatch string = "schema-version-mismatch"
)

// Estimate is the result of aggregating repeated measurements.
type Estimate struct {
	Mean        float64
	Uncertainty float64
	Advisories  []Advisory
}

// WeightedAverage computes the inverse variance weighted mean of repeated
// measurements and its pooled uncertainty. Without errors every entry gets
// uniform weight and an advisory notes that no weighting was applied.
// Entries with a zero error are excluded to avoid division by zero, unless
// that would exclude everything, in which case weighting degrades to
// uniform. Mismatched lengths and an empty value set are programming errors
// and panic.
func WeightedAverage(values []float64, errors []float64) Estimate {
	if len(values) == 0 {
		panic("weighted average of an empty value set")
	}

	if errors != nil && len(errors) != len(values) {
		panic("weighted average with mismatched value and error lengths")
	}

	estimate := Estimate{}

	weights := make([]float64, 0, len(values))
	weighted := make([]float64, 0, len(values))

	if errors != nil {
		for i, err := range errors {
			if err == 0 {
				continue
			}
			weights = append(weights, 1/(err*err))
			weighted = append(weighted, values[i])
		}
	}

	if errors == nil || len(weights) == 0 {
		code := AdvisoryUniformWeights
		message := "no uncertainties provided, using uniform weights"
		if errors != nil {
			message = "all uncertainties are zero, using uniform weights"
		}

		estimate.Advisories = append(estimate.Advisories, Advisory{Code: code, Message: message})

		weights = weights[:0]
		weighted = weighted[:0]
		for _, value := range values {
			weights = append(weights, 1)
			weighted = append(weighted, value)
		}
	}

	var sumOfWeights, sum float64
	for i, weight := range weights {
		sumOfWeights += weight
		sum += weight * weighted[i]
	}

	estimate.Mean = sum / sumOfWeights
	estimate.Uncertainty = math.Sqrt(1 / sumOfWeights)

	return estimate
}

// WeightedAverageOf aggregates a numeric catalogue column, optionally
// weighting by a sibling error column of the same length.
func WeightedAverageOf(catalogue *ColumnCatalogue, valueColumn, errorColumn string) (Estimate, error) {
	column, ok := catalogue.Column(valueColumn)
	if !ok {
		return Estimate{}, notFoundf("catalogue %s has no column %s", catalogue.Name(), valueColumn)
	}

	values, ok := column.Floats()
	if !ok {
		return Estimate{}, notFoundf("column %s of catalogue %s is not numeric", valueColumn, catalogue.Name())
	}

	var errs []float64
	if errorColumn != "" {
		ec, ok := catalogue.Column(errorColumn)
		if !ok {
			return Estimate{}, notFoundf("catalogue %s has no column %s", catalogue.Name(), errorColumn)
		}
		if fs, ok := ec.Floats(); ok && len(fs) == len(values) {
			errs = fs
		}
	}

	return WeightedAverage(values, errs), nil
}
