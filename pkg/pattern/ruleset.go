package pattern

// MatchFunc tests a candidate against a single pattern.
type MatchFunc func(candidate string, p Pattern) bool

// Outcome is the result of evaluating a RuleSet.
type Outcome int

const (
	// OutcomeDefault means no rules applied; the caller's default decides.
	OutcomeDefault Outcome = iota
	// OutcomeAllowed means an allow rule matched and no disallow rule did.
	OutcomeAllowed
	// OutcomeDisallowed means a disallow rule matched.
	OutcomeDisallowed
	// OutcomeNotAllowed means allow rules exist but none matched.
	OutcomeNotAllowed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAllowed:
		return "allowed"
	case OutcomeDisallowed:
		return "disallowed"
	case OutcomeNotAllowed:
		return "not-allowed"
	default:
		return "default"
	}
}

// RuleSet pairs allow and disallow lists. Disallow always wins.
type RuleSet struct {
	Allowed    []Pattern
	Disallowed []Pattern
}

// Evaluate applies the precedence rules to candidate. A nil match uses Match.
func (r RuleSet) Evaluate(candidate string, match MatchFunc) Outcome {
	if match == nil {
		match = Match
	}
	if len(r.Disallowed) > 0 && matchAnyWith(candidate, r.Disallowed, match) {
		return OutcomeDisallowed
	}
	if len(r.Allowed) > 0 {
		if matchAnyWith(candidate, r.Allowed, match) {
			return OutcomeAllowed
		}
		return OutcomeNotAllowed
	}
	return OutcomeDefault
}

// Permits reports whether candidate passes the rule set when the default is to accept.
func (r RuleSet) Permits(candidate string) bool {
	switch r.Evaluate(candidate, Match) {
	case OutcomeDisallowed, OutcomeNotAllowed:
		return false
	default:
		return true
	}
}

// Clone returns a copy whose slices do not alias r.
func (r RuleSet) Clone() RuleSet {
	return RuleSet{
		Allowed:    append([]Pattern(nil), r.Allowed...),
		Disallowed: append([]Pattern(nil), r.Disallowed...),
	}
}
