package resilience

import "fmt"

// AllModelsExhaustedError is returned when every catalog model failed with
// transient errors after its full retry budget.
type AllModelsExhaustedError struct {
	ModelsTried int
	LastErr     error
}

func (e *AllModelsExhaustedError) Error() string {
	return fmt.Sprintf("failed to get a response after trying %d models: %v", e.ModelsTried, e.LastErr)
}

func (e *AllModelsExhaustedError) Unwrap() error {
	return e.LastErr
}
