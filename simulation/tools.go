package simulation

import (
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
)

// Result carries the probability estimates a tool produces.
type Result struct {
	PLostQuorum        float64 `json:"p_lost_quorum" yaml:"p_lost_quorum"`
	PCompromisedQuorum float64 `json:"p_compromised_quorum" yaml:"p_compromised_quorum"`
}

// Tool is one of the three calculation strategies: closed form, structure
// simulation plus closed form, or full Monte Carlo simulation.
type Tool interface {
	Description() string
	Calc() (Result, error)
}

// sizeResultCacheSize bounds the per-section-size closed-form cache; real
// networks see a few dozen distinct sizes.
const sizeResultCacheSize = 1024

// DirectCalcTool computes the probabilities in closed form, assuming every
// section has exactly min_size members and each member is independently
// malicious with the configured fraction. No simulation runs.
type DirectCalcTool struct {
	params Params
	rule   QuorumRule
}

func NewDirectCalcTool(params Params) (*DirectCalcTool, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	rule, err := NewQuorumRule(params.Quorum)
	if err != nil {
		return nil, err
	}
	return &DirectCalcTool{params: params, rule: rule}, nil
}

func (t *DirectCalcTool) Description() string {
	return "closed-form probability of losing or compromising quorum in a section of minimum size"
}

func (t *DirectCalcTool) Calc() (Result, error) {
	pLost, pCompromised := sectionProbabilities(
		t.rule, t.params.Network.MinSize, t.params.Attack.MaliciousFraction)
	log.Info("direct calculation",
		"n", t.params.Network.MinSize,
		"f", t.params.Attack.MaliciousFraction,
		"p_lost", pLost, "p_compromised", pCompromised)
	return Result{PLostQuorum: pLost, PCompromisedQuorum: pCompromised}, nil
}

// SimStructureTool refines DirectCalcTool's fixed-size assumption: it grows
// an honest-only network to obtain an empirical section-size distribution,
// then averages the closed-form result over that distribution. Ageing
// relocation and attacker dynamics are not modelled.
type SimStructureTool struct {
	params Params
	rule   QuorumRule
	cache  *lru.Cache[uint64, Result]
}

func NewSimStructureTool(params Params) (*SimStructureTool, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	rule, err := NewQuorumRule(params.Quorum)
	if err != nil {
		return nil, err
	}
	cache, err := lru.New[uint64, Result](sizeResultCacheSize)
	if err != nil {
		return nil, err
	}
	return &SimStructureTool{params: params, rule: rule, cache: cache}, nil
}

func (t *SimStructureTool) Description() string {
	return "simulate section structure, then apply the closed form over the observed size distribution"
}

func (t *SimStructureTool) Calc() (Result, error) {
	netParams := t.params.Network
	netParams.RelocationInterval = 0 // structure only, no ageing model

	rng := newRand(DeriveSeed(t.params.Sim.Seed, 0))
	net := NewNetwork(netParams, rng)
	if err := net.Bootstrap(); err != nil {
		return Result{}, err
	}
	for i := uint64(0); i < t.params.Sim.Steps; i++ {
		if err := net.DoStep(nil); err != nil {
			return Result{}, errors.Wrapf(err, "structure step %d", net.Step())
		}
	}

	sizes := net.SectionSizes()
	var result Result
	weight := 1 / float64(len(sizes))
	for _, size := range sizes {
		r := t.sizeResult(size)
		result.PLostQuorum += weight * r.PLostQuorum
		result.PCompromisedQuorum += weight * r.PCompromisedQuorum
	}
	log.Info("structure simulation",
		"sections", len(sizes),
		"p_lost", result.PLostQuorum, "p_compromised", result.PCompromisedQuorum)
	return result, nil
}

func (t *SimStructureTool) sizeResult(size uint64) Result {
	if r, ok := t.cache.Get(size); ok {
		return r
	}
	pLost, pCompromised := sectionProbabilities(t.rule, size, t.params.Attack.MaliciousFraction)
	r := Result{PLostQuorum: pLost, PCompromisedQuorum: pCompromised}
	t.cache.Add(size, r)
	return r
}

// SimulationResult is the outcome of one full-simulation run: whether any
// section at any observed step lost quorum, and whether any reached a wrong
// decision. Seed reproduces the run exactly.
type SimulationResult struct {
	LostQuorum        bool   `json:"lost_quorum" yaml:"lost_quorum"`
	CompromisedQuorum bool   `json:"compromised_quorum" yaml:"compromised_quorum"`
	Seed              uint64 `json:"seed" yaml:"seed"`
}

// fallbackRelocationInterval applies when the configuration disables
// relocation: the full simulation models it unconditionally, since it is an
// environment-level mitigation rather than a quorum-rule feature.
const fallbackRelocationInterval = 10

// FullSimTool runs the complete network model (churn, ageing, relocation and
// the configured attack strategy) and reports worst-case quorum outcomes
// over the run. No closed form exists once ageing and adversarial dynamics
// interact, so this tool is repeated by the Monte Carlo harness.
type FullSimTool struct {
	params   Params
	rule     QuorumRule
	recorder *Recorder
}

func NewFullSimTool(params Params) (*FullSimTool, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	rule, err := NewQuorumRule(params.Quorum)
	if err != nil {
		return nil, err
	}
	return &FullSimTool{params: params, rule: rule}, nil
}

func (t *FullSimTool) Description() string {
	return "full event simulation of churn, ageing, relocation and the attack strategy"
}

// SetRecorder attaches a metrics recorder. Recording is only meaningful for
// single-run use; the harness runs many simulations concurrently and leaves
// the recorder unset.
func (t *FullSimTool) SetRecorder(r *Recorder) {
	t.recorder = r
}

// RunOnce performs one deterministic, single-threaded run seeded from the
// base seed and the run index.
func (t *FullSimTool) RunOnce(runIndex uint64) (SimulationResult, error) {
	seed := DeriveSeed(t.params.Sim.Seed, runIndex)
	rng := newRand(seed)

	netParams := t.params.Network
	if netParams.RelocationInterval == 0 {
		netParams.RelocationInterval = fallbackRelocationInterval
	}
	net := NewNetwork(netParams, rng)
	if err := net.Bootstrap(); err != nil {
		return SimulationResult{Seed: seed}, err
	}
	attack, err := NewAttackStrategy(t.params.Attack, t.params.Network.InitialNodes)
	if err != nil {
		return SimulationResult{Seed: seed}, err
	}

	result := SimulationResult{Seed: seed}
	for i := uint64(0); i < t.params.Sim.Steps; i++ {
		if err := net.DoStep(attack); err != nil {
			// report the seed so the failing run can be replayed
			return result, errors.Wrapf(err, "run %d step %d (seed %#x)",
				runIndex, net.Step(), seed)
		}
		t.recorder.ObserveNetwork(net)

		final := i == t.params.Sim.Steps-1
		if t.params.Sim.EvaluateEveryStep || final {
			lost, compromised := evaluateNetwork(t.rule, net)
			result.LostQuorum = result.LostQuorum || lost
			result.CompromisedQuorum = result.CompromisedQuorum || compromised
		}
	}
	return result, nil
}

// Calc runs a single simulation; use MonteCarlo to aggregate many runs.
func (t *FullSimTool) Calc() (Result, error) {
	r, err := t.RunOnce(0)
	if err != nil {
		return Result{}, err
	}
	return Result{
		PLostQuorum:        boolProb(r.LostQuorum),
		PCompromisedQuorum: boolProb(r.CompromisedQuorum),
	}, nil
}

func boolProb(v bool) float64 {
	if v {
		return 1
	}
	return 0
}

// evaluateNetwork folds the quorum outcome of every section: a section is
// lost when its honest members alone cannot reach quorum, and compromised
// when its malicious members alone can reach a wrong decision.
func evaluateNetwork(rule QuorumRule, net *Network) (lost, compromised bool) {
	for _, id := range net.SortedSectionIDs() {
		s, _ := net.Section(id)
		sectionLost, sectionCompromised := evaluateSection(rule, s)
		lost = lost || sectionLost
		compromised = compromised || sectionCompromised
	}
	return lost, compromised
}

func evaluateSection(rule QuorumRule, s *Section) (lost, compromised bool) {
	honest := rule.Evaluate(s.Tally(func(n *Node) bool { return !n.Malicious() }))
	lost = !honest.Reached

	malicious := rule.Evaluate(s.Tally(func(n *Node) bool { return n.Malicious() }))
	compromised = malicious.Reached && !malicious.Correct
	return lost, compromised
}
