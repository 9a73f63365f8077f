package bifaci

// Limits represents protocol negotiation limits
type Limits struct {
	MaxFrame int `cbor:"max_frame"`
}

// DefaultLimits returns the default protocol limits
func DefaultLimits() Limits {
	return Limits{MaxFrame: DefaultMaxFrame}
}

// NegotiateLimits returns the minimum of two limit sets
func NegotiateLimits(a, b Limits) Limits {
	return Limits{MaxFrame: min(a.MaxFrame, b.MaxFrame)}
}

// normalize fills unset fields from the defaults and clamps to the hard
// limit.
func (l Limits) normalize() Limits {
	if l.MaxFrame <= 0 {
		l.MaxFrame = DefaultMaxFrame
	}
	if l.MaxFrame > MaxFrameHardLimit {
		l.MaxFrame = MaxFrameHardLimit
	}
	return l
}
