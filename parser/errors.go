package parser

import "fmt"

// NormalizationError reports an upstream payload that could not be mapped
// onto the record schema at all. Missing optional fields never produce one.
type NormalizationError struct {
	ProductID string
	Field     string
	Err       error
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("normalize %s (%s): %v", e.ProductID, e.Field, e.Err)
}

func (e *NormalizationError) Unwrap() error {
	return e.Err
}

// Reason is the run-log tag for this failure.
func (e *NormalizationError) Reason() string {
	return "normalization"
}
