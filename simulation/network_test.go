package simulation

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testNetworkParams() NetworkParams {
	return NetworkParams{
		InitialNodes:       40,
		MinSize:            4,
		MaxSize:            10,
		JoinRate:           1.0,
		LeaveRate:          0.5,
		RelocationInterval: 5,
		AgeThreshold:       3,
	}
}

func newTestNetwork(t *testing.T, params NetworkParams, seed uint64) *Network {
	t.Helper()
	net := NewNetwork(params, newRand(DeriveSeed(seed, 0)))
	require.Nil(t, net.Bootstrap())
	return net
}

func TestBootstrapRespectsSizeBounds(t *testing.T) {
	params := testNetworkParams()
	net := newTestNetwork(t, params, 1)

	require.Equal(t, params.InitialNodes, net.NodeCount())
	for _, size := range net.SectionSizes() {
		require.LessOrEqual(t, size, params.MaxSize)
	}
	require.Greater(t, net.SectionCount(), uint64(1))
}

func TestSplitPreservesNodeCount(t *testing.T) {
	params := testNetworkParams()
	net := NewNetwork(params, newRand(7))
	for i := 0; i < 11; i++ {
		net.addNode(NewNode(net.freshName(), false), nil)
	}
	require.Equal(t, uint64(1), net.SectionCount())

	net.splitOversized()

	require.Equal(t, uint64(2), net.SectionCount())
	require.Equal(t, uint64(11), net.NodeCount())
	for _, size := range net.SectionSizes() {
		require.GreaterOrEqual(t, size, params.MinSize)
		require.LessOrEqual(t, size, params.MaxSize)
	}
}

func TestSplitIsDeterministic(t *testing.T) {
	params := testNetworkParams()
	a := NewNetwork(params, newRand(7))
	b := NewNetwork(params, newRand(7))
	for i := 0; i < 15; i++ {
		a.addNode(NewNode(a.freshName(), false), nil)
		b.addNode(NewNode(b.freshName(), false), nil)
	}
	a.splitOversized()
	b.splitOversized()

	require.Equal(t, a.SectionSizes(), b.SectionSizes())
	for _, id := range a.SortedSectionIDs() {
		sa, _ := a.Section(id)
		sb, ok := b.Section(id)
		require.True(t, ok)
		require.Equal(t, sa.sortedNames(), sb.sortedNames())
	}
}

func TestMergePreservesNodeCount(t *testing.T) {
	params := testNetworkParams()
	net := NewNetwork(params, newRand(3))
	small := NewSection(1)
	net.sections[small.ID()] = small
	big, _ := net.Section(0)

	for i := 0; i < 6; i++ {
		node := NewNode(net.freshName(), false)
		big.Add(node)
		net.index[node.Name()] = big.ID()
	}
	for i := 0; i < 2; i++ {
		node := NewNode(net.freshName(), false)
		small.Add(node)
		net.index[node.Name()] = small.ID()
	}

	require.Nil(t, net.mergeUndersized())
	require.Equal(t, uint64(1), net.SectionCount())
	require.Equal(t, uint64(8), net.NodeCount())

	merged, ok := net.Section(0)
	require.True(t, ok)
	require.Equal(t, uint64(8), merged.Size())
}

func TestMergeWithoutTargetIsFatal(t *testing.T) {
	params := testNetworkParams()
	net := NewNetwork(params, newRand(3))
	only, _ := net.Section(0)
	node := NewNode(net.freshName(), false)
	only.Add(node)
	net.index[node.Name()] = only.ID()

	err := net.mergeUndersized()
	require.Equal(t, ErrNoMergeTarget, err)
}

func TestStepAgesEveryNode(t *testing.T) {
	params := testNetworkParams()
	params.JoinRate = 0
	params.LeaveRate = 0
	net := newTestNetwork(t, params, 5)

	require.Nil(t, net.DoStep(nil))

	for _, id := range net.SortedSectionIDs() {
		s, _ := net.Section(id)
		for _, name := range s.sortedNames() {
			node, _ := s.Member(name)
			require.Equal(t, uint64(1), node.Age())
		}
	}
}

func TestRelocationMovesAgedNodes(t *testing.T) {
	params := testNetworkParams()
	params.AgeThreshold = 2
	net := newTestNetwork(t, params, 11)
	require.Greater(t, net.SectionCount(), uint64(1))

	// age one node past the threshold and find where it lives
	firstID := net.SortedSectionIDs()[0]
	first, _ := net.Section(firstID)
	name := first.sortedNames()[0]
	node, _ := first.Member(name)
	for node.Age() <= params.AgeThreshold {
		node.IncrementAge()
	}

	net.relocateAged()

	require.False(t, first.Contains(name))
	home, ok := net.index[name]
	require.True(t, ok)
	require.NotEqual(t, firstID, home)
	require.Equal(t, params.InitialNodes, net.NodeCount())
}

func TestRelocationBlockedAtMinSize(t *testing.T) {
	params := testNetworkParams()
	net := NewNetwork(params, newRand(13))
	other := NewSection(1)
	net.sections[other.ID()] = other

	small, _ := net.Section(0)
	for i := uint64(0); i < params.MinSize; i++ {
		node := NewNode(net.freshName(), false)
		for j := uint64(0); j < params.AgeThreshold+1; j++ {
			node.IncrementAge()
		}
		small.Add(node)
		net.index[node.Name()] = small.ID()
	}
	for i := uint64(0); i < params.MinSize; i++ {
		node := NewNode(net.freshName(), false)
		other.Add(node)
		net.index[node.Name()] = other.ID()
	}

	net.relocateAged()

	// losing a member would violate min_size, so nobody moves
	require.Equal(t, params.MinSize, small.Size())
}

func TestDoStepDeterministicForSeed(t *testing.T) {
	params := testNetworkParams()
	run := func() *Network {
		net := NewNetwork(params, newRand(DeriveSeed(42, 0)))
		require.Nil(t, net.Bootstrap())
		attack := NewSimpleTargetted(1.0, 6)
		for i := 0; i < 50; i++ {
			require.Nil(t, net.DoStep(attack))
		}
		return net
	}

	a := run()
	b := run()
	require.Equal(t, a.SortedSectionIDs(), b.SortedSectionIDs())
	require.Equal(t, a.SectionSizes(), b.SectionSizes())
	require.Equal(t, a.MaliciousNodes(), b.MaliciousNodes())
}

func TestStepsKeepSizeBounds(t *testing.T) {
	params := testNetworkParams()
	net := newTestNetwork(t, params, 17)
	attack := NewUntargetted(0.5, 8)

	for i := 0; i < 100; i++ {
		require.Nil(t, net.DoStep(attack))
		for _, size := range net.SectionSizes() {
			require.GreaterOrEqual(t, size, params.MinSize)
			require.LessOrEqual(t, size, params.MaxSize)
		}
	}
}
