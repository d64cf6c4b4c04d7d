// Package simulation estimates the security of quorum decisions in a
// churning peer-to-peer network partitioned into sections. It provides three
// estimation tools over one network/ageing model: a closed-form calculation,
// a structure simulation refined by closed form, and a full Monte Carlo event
// simulation with pluggable quorum rules and attacker strategies.
package simulation

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// QuorumParams selects a quorum rule and its thresholds.
type QuorumParams struct {
	// Rule is "simple" or "age".
	Rule string `json:"rule" yaml:"rule"`

	// Proportion is the responding-count threshold, range (0, 1].
	Proportion float64 `json:"proportion" yaml:"proportion"`

	// AgeProportion is the responding-age threshold, range (0, 1].
	// Only used by the "age" rule.
	AgeProportion float64 `json:"age_proportion,omitempty" yaml:"age_proportion,omitempty"`
}

// AttackParams selects an attacker strategy and its intensity.
type AttackParams struct {
	// Strategy is "untargetted" or "simple_targetted".
	Strategy string `json:"strategy" yaml:"strategy"`

	// MaliciousFraction is the attacker's identity budget as a fraction of
	// the initial network size, range [0, 1).
	MaliciousFraction float64 `json:"malicious_fraction" yaml:"malicious_fraction"`

	// JoinRate is how many malicious nodes join per step (fractions
	// accumulate across steps) until the budget is spent.
	JoinRate float64 `json:"join_rate" yaml:"join_rate"`
}

// NetworkParams configures the churn/growth/ageing model.
type NetworkParams struct {
	// InitialNodes is the honest population built before any steps run.
	InitialNodes uint64 `json:"initial_nodes" yaml:"initial_nodes"`

	// MinSize and MaxSize bound section sizes; crossing MaxSize splits a
	// section, falling below MinSize merges it into a neighbour.
	MinSize uint64 `json:"min_size" yaml:"min_size"`
	MaxSize uint64 `json:"max_size" yaml:"max_size"`

	// JoinRate is honest joins per step; fractions accumulate.
	JoinRate float64 `json:"join_rate" yaml:"join_rate"`

	// LeaveRate is honest-or-malicious departures per step; fractions
	// accumulate.
	LeaveRate float64 `json:"leave_rate" yaml:"leave_rate"`

	// RelocationInterval is the ageing-relocation period in steps; every
	// interval, nodes older than AgeThreshold move to a uniformly random
	// other section. Zero disables relocation (structure simulation only;
	// the full simulation always relocates).
	RelocationInterval uint64 `json:"relocation_interval" yaml:"relocation_interval"`

	// AgeThreshold is the age above which a node is eligible for
	// relocation.
	AgeThreshold uint64 `json:"age_threshold" yaml:"age_threshold"`
}

// SimParams drives the simulation tools and the Monte Carlo harness.
type SimParams struct {
	// Steps per run.
	Steps uint64 `json:"steps" yaml:"steps"`

	// EvaluateEveryStep evaluates quorum outcomes at every step when true,
	// or only at the final step when false.
	EvaluateEveryStep bool `json:"evaluate_every_step" yaml:"evaluate_every_step"`

	// Runs is the Monte Carlo repeat count.
	Runs uint64 `json:"runs" yaml:"runs"`

	// Seed is the base seed; run i uses blake3(Seed, i).
	Seed uint64 `json:"seed" yaml:"seed"`

	// Workers bounds harness parallelism; zero means NumCPU.
	Workers int `json:"workers,omitempty" yaml:"workers,omitempty"`

	// Confidence, when nonzero, is the level of the binomial confidence
	// interval reported around each estimate, e.g. 0.95.
	Confidence float64 `json:"confidence,omitempty" yaml:"confidence,omitempty"`
}

// Params is the complete configuration of a scenario.
type Params struct {
	Quorum  QuorumParams  `json:"quorum" yaml:"quorum"`
	Attack  AttackParams  `json:"attack" yaml:"attack"`
	Network NetworkParams `json:"network" yaml:"network"`
	Sim     SimParams     `json:"sim" yaml:"sim"`
}

func DefaultParams() Params {
	return Params{
		Quorum: QuorumParams{
			Rule:          "simple",
			Proportion:    0.5,
			AgeProportion: 0.5,
		},
		Attack: AttackParams{
			Strategy:          "untargetted",
			MaliciousFraction: 0.1,
			JoinRate:          1.0,
		},
		Network: NetworkParams{
			InitialNodes:       1000,
			MinSize:            8,
			MaxSize:            20,
			JoinRate:           1.0,
			LeaveRate:          0.5,
			RelocationInterval: 10,
			AgeThreshold:       4,
		},
		Sim: SimParams{
			Steps:             500,
			EvaluateEveryStep: true,
			Runs:              100,
			Seed:              1,
			Confidence:        0.95,
		},
	}
}

// LoadParams reads a YAML scenario file over the defaults.
func LoadParams(path string) (Params, error) {
	params := DefaultParams()
	raw, err := os.ReadFile(path)
	if err != nil {
		return params, errors.Wrapf(err, "reading scenario %s", path)
	}
	if err := yaml.Unmarshal(raw, &params); err != nil {
		return params, errors.Wrapf(err, "parsing scenario %s", path)
	}
	return params, nil
}

func validProportion(p float64) bool {
	return p > 0 && p <= 1
}

// Validate fails fast on configurations that cannot run. It is called before
// any simulation starts.
func (p Params) Validate() error {
	if !validProportion(p.Quorum.Proportion) {
		return errors.Errorf("quorum proportion %v outside (0, 1]", p.Quorum.Proportion)
	}
	rule, err := NewQuorumRule(p.Quorum)
	if err != nil {
		return err
	}
	if p.Quorum.Rule == "age" && !validProportion(p.Quorum.AgeProportion) {
		return errors.Errorf("age proportion %v outside (0, 1]", p.Quorum.AgeProportion)
	}
	if p.Network.MinSize == 0 {
		return errors.New("min_size must be at least 1")
	}
	if q := rule.MinQuorumCount(p.Network.MinSize); q > p.Network.MinSize {
		return errors.Errorf("quorum rule %s cannot reach quorum at min_size %d",
			rule.Name(), p.Network.MinSize)
	}
	if p.Network.MaxSize < 2*p.Network.MinSize {
		return errors.Errorf("max_size %d cannot split into two sections of min_size %d",
			p.Network.MaxSize, p.Network.MinSize)
	}
	if p.Network.InitialNodes < p.Network.MinSize {
		return errors.Errorf("initial_nodes %d below min_size %d",
			p.Network.InitialNodes, p.Network.MinSize)
	}
	if p.Network.JoinRate < 0 || p.Network.LeaveRate < 0 {
		return errors.New("network join/leave rates must be non-negative")
	}
	if p.Attack.MaliciousFraction < 0 || p.Attack.MaliciousFraction >= 1 {
		return errors.Errorf("malicious fraction %v outside [0, 1)", p.Attack.MaliciousFraction)
	}
	if p.Attack.JoinRate < 0 {
		return errors.New("attack join_rate must be non-negative")
	}
	if _, err := NewAttackStrategy(p.Attack, p.Network.InitialNodes); err != nil {
		return err
	}
	if p.Sim.Runs == 0 {
		return errors.New("runs must be positive in Monte Carlo mode")
	}
	if p.Sim.Steps == 0 {
		return errors.New("steps must be positive")
	}
	if p.Sim.Workers < 0 {
		return errors.Errorf("workers %d must be non-negative", p.Sim.Workers)
	}
	if p.Sim.Confidence != 0 && (p.Sim.Confidence <= 0 || p.Sim.Confidence >= 1) {
		return errors.Errorf("confidence %v outside (0, 1)", p.Sim.Confidence)
	}
	return nil
}
