package p2p

import "math/rand"

// MaxHTL is the default hop budget of a new request.
const MaxHTL = 10

// Probabilities that a peer connection decrements the HTL
// of a request at the maximum and at one, respectively.
const (
	DecrementAtMaxProb = 0.5
	DecrementAtMinProb = 0.25
)

// HTLPolicy decides the HTL with which to forward a request.
//
// Whether a request at the maximum HTL is decremented,
// and whether a request at HTL 1 is forwarded at all,
// is decided once per peer connection rather than per request.
// An observer therefore cannot tell from a request at the maximum HTL
// whether its sender originated it,
// and repeated probing of one connection learns nothing new.
type HTLPolicy struct {
	Max            int
	DecrementAtMax bool
	DecrementAtMin bool
}

// NewHTLPolicy draws a policy from r.
func NewHTLPolicy(max int, r *rand.Rand) HTLPolicy {
	if max < 1 {
		max = MaxHTL
	}
	return HTLPolicy{
		Max:            max,
		DecrementAtMax: r.Float64() < DecrementAtMaxProb,
		DecrementAtMin: r.Float64() < DecrementAtMinProb,
	}
}

// Next gives the HTL with which to forward a request received with htl.
// It returns false if the request must not be forwarded.
//
// A request with HTL 0 (or less) is never forwarded.
// A request with HTL 1 is forwarded with HTL 0,
// so it goes at most one hop further,
// unless this connection decrements at the minimum,
// in which case it is dropped.
func (p HTLPolicy) Next(htl int) (int, bool) {
	switch {
	case htl <= 0:
		return 0, false
	case htl == 1:
		if p.DecrementAtMin {
			return 0, false
		}
		return 0, true
	case htl >= p.Max:
		if p.DecrementAtMax {
			return p.Max - 1, true
		}
		return p.Max, true
	}
	return htl - 1, true
}
