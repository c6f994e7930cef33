// Package cf implements the MYCIN certainty-factor calculus: values in
// [-1, 1] where +1 is certainly true, -1 certainly false and 0 unknown.
package cf

import "math"

// Reference certainty factors.
const (
	True    = 1.0
	False   = -1.0
	Unknown = 0.0

	// Cutoff is the classification threshold: cf >= +Cutoff reads as true,
	// cf <= -Cutoff as false, anything between as unknown.
	Cutoff = 0.2
)

// Truth is the three-valued classification of a certainty factor.
type Truth int

const (
	TruthUnknown Truth = iota
	TruthTrue
	TruthFalse
)

// String returns the lowercase name of the truth value.
func (t Truth) String() string {
	switch t {
	case TruthTrue:
		return "true"
	case TruthFalse:
		return "false"
	default:
		return "unknown"
	}
}

// IsValid reports whether x is a certainty factor, ie False <= x <= True.
func IsValid(x float64) bool {
	return x >= False && x <= True
}

// Classify maps a certainty factor to true/false/unknown using Cutoff.
func Classify(x float64) Truth {
	switch {
	case x >= Cutoff:
		return TruthTrue
	case x <= -Cutoff:
		return TruthFalse
	default:
		return TruthUnknown
	}
}

// IsTrue reports whether x is a valid certainty factor we consider true.
func IsTrue(x float64) bool {
	return IsValid(x) && Classify(x) == TruthTrue
}

// IsFalse reports whether x is a valid certainty factor we consider false.
func IsFalse(x float64) bool {
	return IsValid(x) && Classify(x) == TruthFalse
}

// Combine merges two independent pieces of evidence for the same conclusion.
// Reinforcing evidence (same sign) grows in magnitude but stays bounded by
// one; conflicting evidence is discounted by the weaker side.
func Combine(a, b float64) float64 {
	switch {
	case a > 0 && b > 0:
		return a + b*(1-a)
	case a < 0 && b < 0:
		return a + b*(1+a)
	default:
		weaker := math.Min(math.Abs(a), math.Abs(b))
		if weaker == 1 {
			// Contradictory absolute certainty cancels out.
			return Unknown
		}
		return (a + b) / (1 - weaker)
	}
}

// And combines the clause certainties of a conjunctive premise.
func And(cfs ...float64) float64 {
	out := True
	for _, c := range cfs {
		out = math.Min(out, c)
	}
	return out
}

// Or combines the clause certainties of a disjunctive premise.
func Or(cfs ...float64) float64 {
	out := False
	for _, c := range cfs {
		out = math.Max(out, c)
	}
	return out
}

// Scale computes the certainty a firing rule contributes to its conclusions.
// A premise below the truth threshold does not fire and contributes nothing.
func Scale(ruleCF, premiseCF float64) float64 {
	if !IsTrue(premiseCF) {
		return Unknown
	}
	return ruleCF * premiseCF
}
