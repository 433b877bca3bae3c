package whistle

import "errors"

var errNtapsMustBePositiveOdd = errors.New("ntaps must be a positive odd integer")
