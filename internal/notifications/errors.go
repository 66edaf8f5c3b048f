package notifications

import "errors"

// ErrDeliveryFailed wraps every notification failure. Callers log it and move on.
var ErrDeliveryFailed = errors.New("notification delivery failed")
