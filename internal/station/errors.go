package station

import "errors"

// Station service errors
var (
	// ErrDuplicateName indicates a station with the same name already exists
	ErrDuplicateName = errors.New("station name already exists")

	// ErrStationNotFound indicates the requested station does not exist
	ErrStationNotFound = errors.New("station not found")

	// ErrInvalidName indicates an empty or overlong name
	ErrInvalidName = errors.New("station name must be 1-64 characters")

	// ErrInvalidURL indicates a stream, mirror or external player URL that is
	// not an absolute http(s) URL
	ErrInvalidURL = errors.New("url must be an absolute http or https url")

	// ErrInvalidProvider indicates an unknown provider kind
	ErrInvalidProvider = errors.New("provider must be auto, token or static")
)

// IsDuplicateName checks if the error is a duplicate station name error
func IsDuplicateName(err error) bool {
	return errors.Is(err, ErrDuplicateName)
}

// IsNotFound checks if the error is a station not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrStationNotFound)
}

// IsValidation checks if the error is caused by invalid station input
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidName) || errors.Is(err, ErrInvalidURL) || errors.Is(err, ErrInvalidProvider)
}
