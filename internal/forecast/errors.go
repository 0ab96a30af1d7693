package forecast

import "errors"

var (
	// ErrNotTrained is returned when predicting without a trained regressor.
	ErrNotTrained = errors.New("forecast: model not trained")
	// ErrInvalidConfig covers window sizes the data cannot satisfy and
	// field sets naming columns the station does not have.
	ErrInvalidConfig = errors.New("forecast: invalid configuration")
)
