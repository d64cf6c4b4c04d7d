package simulation

import (
	"math/rand"

	"github.com/pkg/errors"
)

type ActionKind int

const (
	// ActionJoin introduces a fresh malicious node.
	ActionJoin ActionKind = iota
	// ActionReset destroys an existing malicious identity and rejoins as
	// a fresh node with age zero.
	ActionReset
)

// AttackAction is one attacker decision. Strategies never mutate the network;
// they return actions and the network applies them.
type AttackAction struct {
	Kind ActionKind
	// Node is the identity being reset (ActionReset only).
	Node NodeName
	// Target is the section the attacker aims the join or rejoin at;
	// nil means the network's natural placement.
	Target *SectionID
}

// AttackStrategy decides, each step, which malicious nodes join, reset or
// relocate. Strategies hold only section ids, never network state.
type AttackStrategy interface {
	OnStep(net *Network, rng *rand.Rand) []AttackAction
	Name() string
}

// joinBudget meters malicious joins: JoinRate identities per step until the
// fraction-derived budget is spent.
type joinBudget struct {
	rate      float64
	remaining uint64
	debt      float64
}

func (b *joinBudget) take() uint64 {
	b.debt += b.rate
	var joins uint64
	for b.debt >= 1 && b.remaining > 0 {
		b.debt--
		b.remaining--
		joins++
	}
	return joins
}

// Untargetted is the baseline: malicious nodes join into naturally chosen
// sections and never voluntarily reset their identity.
type Untargetted struct {
	budget joinBudget
}

func NewUntargetted(joinRate float64, total uint64) *Untargetted {
	return &Untargetted{budget: joinBudget{rate: joinRate, remaining: total}}
}

func (u *Untargetted) Name() string { return "untargetted" }

func (u *Untargetted) OnStep(net *Network, rng *rand.Rand) []AttackAction {
	var actions []AttackAction
	for i := uint64(0); i < u.budget.take(); i++ {
		actions = append(actions, AttackAction{Kind: ActionJoin})
	}
	return actions
}

// SimpleTargetted concentrates the attack on one section: joins aim at the
// target, and any malicious node found outside the target resets, giving up
// its accumulated age for another chance at landing inside.
//
// Under an age-weighted quorum this strategy gains essentially nothing, since
// every reset zeroes the age the quorum weighs; it is meaningful against the
// simple count quorum only.
type SimpleTargetted struct {
	budget joinBudget
	target *SectionID
}

func NewSimpleTargetted(joinRate float64, total uint64) *SimpleTargetted {
	return &SimpleTargetted{budget: joinBudget{rate: joinRate, remaining: total}}
}

func (s *SimpleTargetted) Name() string { return "simple_targetted" }

// TargetSection exposes the current target for inspection; nil before the
// first step or right after the target vanished.
func (s *SimpleTargetted) TargetSection() *SectionID {
	return s.target
}

func (s *SimpleTargetted) OnStep(net *Network, rng *rand.Rand) []AttackAction {
	if s.target != nil {
		if _, ok := net.Section(*s.target); !ok {
			// merged away or never existed; re-target
			s.target = nil
		}
	}
	if s.target == nil {
		ids := net.SortedSectionIDs()
		if len(ids) == 0 {
			return nil
		}
		id := ids[rng.Intn(len(ids))]
		s.target = &id
		log.Debug("attack target selected", "section", id)
	}

	var actions []AttackAction
	for i := uint64(0); i < s.budget.take(); i++ {
		actions = append(actions, AttackAction{Kind: ActionJoin, Target: s.target})
	}
	for _, ref := range net.MaliciousNodes() {
		if ref.Section != *s.target {
			actions = append(actions, AttackAction{
				Kind:   ActionReset,
				Node:   ref.Name,
				Target: s.target,
			})
		}
	}
	return actions
}

// NewAttackStrategy builds a strategy by name. The identity budget is the
// malicious fraction applied to the initial network size.
func NewAttackStrategy(params AttackParams, initialNodes uint64) (AttackStrategy, error) {
	total := uint64(params.MaliciousFraction * float64(initialNodes))
	switch params.Strategy {
	case "untargetted":
		return NewUntargetted(params.JoinRate, total), nil
	case "simple_targetted":
		return NewSimpleTargetted(params.JoinRate, total), nil
	default:
		return nil, errors.Errorf("unknown attack strategy %q", params.Strategy)
	}
}
