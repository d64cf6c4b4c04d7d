package simulation

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testParams() Params {
	params := DefaultParams()
	params.Network = NetworkParams{
		InitialNodes:       40,
		MinSize:            4,
		MaxSize:            10,
		JoinRate:           1.0,
		LeaveRate:          0.5,
		RelocationInterval: 5,
		AgeThreshold:       3,
	}
	params.Attack = AttackParams{
		Strategy:          "untargetted",
		MaliciousFraction: 0.2,
		JoinRate:          1.0,
	}
	params.Sim = SimParams{
		Steps:             30,
		EvaluateEveryStep: true,
		Runs:              10,
		Seed:              1,
		Confidence:        0.95,
	}
	return params
}

func TestDirectCalcTool(t *testing.T) {
	params := testParams()
	tool, err := NewDirectCalcTool(params)
	require.Nil(t, err)

	result, err := tool.Calc()
	require.Nil(t, err)
	require.GreaterOrEqual(t, result.PLostQuorum, 0.0)
	require.LessOrEqual(t, result.PLostQuorum, 1.0)
	require.GreaterOrEqual(t, result.PCompromisedQuorum, 0.0)
	require.LessOrEqual(t, result.PCompromisedQuorum, 1.0)
}

func TestDirectCalcToolNoAttacker(t *testing.T) {
	params := testParams()
	params.Attack.MaliciousFraction = 0

	tool, err := NewDirectCalcTool(params)
	require.Nil(t, err)
	result, err := tool.Calc()
	require.Nil(t, err)
	require.Equal(t, 0.0, result.PLostQuorum)
	require.Equal(t, 0.0, result.PCompromisedQuorum)
}

func TestDirectCalcToolMonotoneInFraction(t *testing.T) {
	var prev Result
	for _, f := range []float64{0.05, 0.1, 0.2, 0.4} {
		params := testParams()
		params.Attack.MaliciousFraction = f
		tool, err := NewDirectCalcTool(params)
		require.Nil(t, err)
		result, err := tool.Calc()
		require.Nil(t, err)
		require.GreaterOrEqual(t, result.PLostQuorum, prev.PLostQuorum)
		require.GreaterOrEqual(t, result.PCompromisedQuorum, prev.PCompromisedQuorum)
		prev = result
	}
}

func TestSimStructureToolDeterministic(t *testing.T) {
	params := testParams()

	first, err := NewSimStructureTool(params)
	require.Nil(t, err)
	second, err := NewSimStructureTool(params)
	require.Nil(t, err)

	a, err := first.Calc()
	require.Nil(t, err)
	b, err := second.Calc()
	require.Nil(t, err)
	require.Equal(t, a, b)

	require.GreaterOrEqual(t, a.PLostQuorum, 0.0)
	require.LessOrEqual(t, a.PLostQuorum, 1.0)
	require.GreaterOrEqual(t, a.PCompromisedQuorum, 0.0)
	require.LessOrEqual(t, a.PCompromisedQuorum, 1.0)
}

func TestFullSimRunOnceDeterministic(t *testing.T) {
	params := testParams()
	tool, err := NewFullSimTool(params)
	require.Nil(t, err)

	a, err := tool.RunOnce(3)
	require.Nil(t, err)
	b, err := tool.RunOnce(3)
	require.Nil(t, err)
	require.Equal(t, a, b)
	require.Equal(t, DeriveSeed(params.Sim.Seed, 3), a.Seed)
}

func TestFullSimRunsDiffer(t *testing.T) {
	params := testParams()
	tool, err := NewFullSimTool(params)
	require.Nil(t, err)

	a, err := tool.RunOnce(0)
	require.Nil(t, err)
	b, err := tool.RunOnce(1)
	require.Nil(t, err)
	require.NotEqual(t, a.Seed, b.Seed)
}

func TestEvaluateSectionOutcomes(t *testing.T) {
	rule := SimpleQuorum{Proportion: 0.5}

	// all honest: quorum reached correctly
	s := NewSection(0)
	rng := newRand(1)
	for i := 0; i < 8; i++ {
		s.Add(NewNode(newNodeName(rng), false))
	}
	lost, compromised := evaluateSection(rule, s)
	require.False(t, lost)
	require.False(t, compromised)

	// malicious majority: the wrong side can reach quorum on its own
	s = NewSection(1)
	for i := 0; i < 3; i++ {
		s.Add(NewNode(newNodeName(rng), false))
	}
	for i := 0; i < 5; i++ {
		s.Add(NewNode(newNodeName(rng), true))
	}
	lost, compromised = evaluateSection(rule, s)
	require.True(t, lost)
	require.True(t, compromised)

	// empty section: automatic lost quorum, nothing to compromise
	lost, compromised = evaluateSection(rule, NewSection(2))
	require.True(t, lost)
	require.False(t, compromised)
}

func TestFullSimFatalOnUnsustainableConfig(t *testing.T) {
	params := testParams()
	// leave rate far above join rate drains the network until a lone
	// section cannot sustain min_size
	params.Network.InitialNodes = 8
	params.Network.LeaveRate = 5.0
	params.Network.JoinRate = 0
	params.Sim.Steps = 50

	tool, err := NewFullSimTool(params)
	require.Nil(t, err)
	_, err = tool.RunOnce(0)
	require.Error(t, err)
	require.Contains(t, err.Error(), "seed")
}
