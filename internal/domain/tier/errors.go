package tier

import "errors"

var (
	ErrUnknownTier  = errors.New("unknown subscription tier")
	ErrInvalidCycle = errors.New("invalid billing cycle")
	ErrNotAnUpgrade = errors.New("target tier must be higher than current tier")
)
