package simulation

import (
	"math"

	"github.com/pkg/errors"
)

// Tally is the input to a quorum decision: how many members exist, how many
// responded, and the honest/malicious and age breakdown of the responders.
type Tally struct {
	TotalCount      uint64
	RespondingCount uint64

	TotalAge      uint64
	RespondingAge uint64

	RespondingHonest    uint64
	RespondingMalicious uint64
}

// QuorumOutcome is the result of evaluating one section composition.
type QuorumOutcome struct {
	// Reached reports whether the responders meet the rule's thresholds.
	Reached bool
	// Correct reports whether a strict majority of responders is honest.
	// Ties count as incorrect.
	Correct bool
}

// QuorumRule decides whether a given section composition reaches quorum. A
// rule is stateless across steps; it is a pure function of the tally.
type QuorumRule interface {
	// Evaluate applies the rule to one tally. An empty section never
	// reaches quorum.
	Evaluate(t Tally) QuorumOutcome

	// MinQuorumCount is the smallest responder count that satisfies the
	// rule's count threshold for a section of the given size: the ceiling
	// of proportion*total. Crossing thresholds for the closed-form tools
	// derive from this.
	MinQuorumCount(total uint64) uint64

	Name() string
}

// quorumCount is the conservative rounding rule: quorum requires at least
// ceil(prop * total) responders.
func quorumCount(prop float64, total uint64) uint64 {
	return uint64(math.Ceil(prop * float64(total)))
}

func tallyCorrect(t Tally) bool {
	return t.RespondingHonest > t.RespondingMalicious
}

// SimpleQuorum reaches quorum when the responding count is at least the
// configured proportion of the section size.
type SimpleQuorum struct {
	Proportion float64 `json:"proportion" yaml:"proportion"`
}

func (q SimpleQuorum) Name() string { return "simple" }

func (q SimpleQuorum) MinQuorumCount(total uint64) uint64 {
	return quorumCount(q.Proportion, total)
}

func (q SimpleQuorum) Evaluate(t Tally) QuorumOutcome {
	if t.TotalCount == 0 {
		return QuorumOutcome{}
	}
	reached := t.RespondingCount >= q.MinQuorumCount(t.TotalCount)
	return QuorumOutcome{
		Reached: reached,
		Correct: tallyCorrect(t),
	}
}

// AgeQuorum requires both a count proportion and an age-weight proportion.
// Flooding a section with young identities satisfies the count condition but
// not the age condition, since resetting an identity zeroes its age.
type AgeQuorum struct {
	CountProportion float64 `json:"count_proportion" yaml:"count_proportion"`
	AgeProportion   float64 `json:"age_proportion" yaml:"age_proportion"`
}

func (q AgeQuorum) Name() string { return "age" }

func (q AgeQuorum) MinQuorumCount(total uint64) uint64 {
	return quorumCount(q.CountProportion, total)
}

func (q AgeQuorum) Evaluate(t Tally) QuorumOutcome {
	if t.TotalCount == 0 {
		return QuorumOutcome{}
	}
	countOK := t.RespondingCount >= q.MinQuorumCount(t.TotalCount)
	// Multiplied form of respondingAge/totalAge >= proportion. A section
	// whose ages are all zero passes trivially rather than dividing by
	// zero.
	ageOK := float64(t.RespondingAge) >= q.AgeProportion*float64(t.TotalAge)
	return QuorumOutcome{
		Reached: countOK && ageOK,
		Correct: tallyCorrect(t),
	}
}

// NewQuorumRule builds a rule by name from the configured thresholds.
func NewQuorumRule(params QuorumParams) (QuorumRule, error) {
	switch params.Rule {
	case "simple":
		return SimpleQuorum{Proportion: params.Proportion}, nil
	case "age":
		return AgeQuorum{
			CountProportion: params.Proportion,
			AgeProportion:   params.AgeProportion,
		}, nil
	default:
		return nil, errors.Errorf("unknown quorum rule %q", params.Rule)
	}
}
