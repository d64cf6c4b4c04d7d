package simulation

import (
	"math/rand"
	"sort"

	"github.com/pkg/errors"
)

// ErrNoMergeTarget is fatal: the network has a single section below the
// minimum size and nothing to merge it into. The configured rates cannot
// sustain the size invariant; the run aborts rather than retries.
var ErrNoMergeTarget = errors.New("section below min_size with no section to merge into")

// Network owns the sections and their nodes, and the churn, growth, ageing,
// relocation, split and merge logic. All randomness is drawn from the
// explicit stream handed in at construction; iteration over sections and
// members is always in sorted order so that a seed fully determines a run.
type Network struct {
	params NetworkParams

	sections map[SectionID]*Section
	index    map[NodeName]SectionID
	nextID   SectionID
	step     uint64

	// join/leave rates accumulate across steps so that fractional rates
	// take effect every few steps rather than never.
	joinDebt  float64
	leaveDebt float64

	rng *rand.Rand
}

// NewNetwork creates an empty network with one section.
func NewNetwork(params NetworkParams, rng *rand.Rand) *Network {
	first := NewSection(0)
	return &Network{
		params:   params,
		sections: map[SectionID]*Section{first.ID(): first},
		index:    make(map[NodeName]SectionID),
		nextID:   1,
		rng:      rng,
	}
}

func (n *Network) Step() uint64 {
	return n.step
}

func (n *Network) Sections() map[SectionID]*Section {
	return n.sections
}

func (n *Network) Section(id SectionID) (*Section, bool) {
	s, ok := n.sections[id]
	return s, ok
}

func (n *Network) SectionCount() uint64 {
	return uint64(len(n.sections))
}

func (n *Network) NodeCount() uint64 {
	return uint64(len(n.index))
}

func (n *Network) MaliciousNodeCount() uint64 {
	var count uint64
	for _, s := range n.sections {
		count += s.MaliciousCount()
	}
	return count
}

// SectionSizes returns the current size of every section.
func (n *Network) SectionSizes() []uint64 {
	sizes := make([]uint64, 0, len(n.sections))
	for _, id := range n.SortedSectionIDs() {
		sizes = append(sizes, n.sections[id].Size())
	}
	return sizes
}

// SortedSectionIDs returns section ids in ascending order. Every walk that
// consumes randomness or mutates state iterates in this order.
func (n *Network) SortedSectionIDs() []SectionID {
	ids := make([]SectionID, 0, len(n.sections))
	for id := range n.sections {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// MaliciousRef locates one malicious node for an attack strategy.
type MaliciousRef struct {
	Section SectionID
	Name    NodeName
	Age     uint64
}

// MaliciousNodes lists every malicious node in deterministic order.
func (n *Network) MaliciousNodes() []MaliciousRef {
	var refs []MaliciousRef
	for _, id := range n.SortedSectionIDs() {
		s := n.sections[id]
		for _, name := range s.sortedNames() {
			node, _ := s.Member(name)
			if node.Malicious() {
				refs = append(refs, MaliciousRef{Section: id, Name: name, Age: node.Age()})
			}
		}
	}
	return refs
}

// Bootstrap grows the initial honest population. Only the split bound is
// enforced while growing; the minimum bound becomes meaningful once the
// network is up.
func (n *Network) Bootstrap() error {
	for i := uint64(0); i < n.params.InitialNodes; i++ {
		n.addNode(NewNode(n.freshName(), false), nil)
		n.splitOversized()
	}
	log.Debug("bootstrap complete",
		"nodes", n.NodeCount(), "sections", n.SectionCount())
	return nil
}

// DoStep advances the simulation one step: natural joins and leaves, ageing,
// attacker actions, periodic ageing relocation, then split/merge resolution.
// Structural operations are computed from a snapshot of the step's state and
// applied as a batch, so mutation order cannot skew outcomes.
func (n *Network) DoStep(attack AttackStrategy) error {
	n.step++

	// (a) natural churn
	n.joinDebt += n.params.JoinRate
	for n.joinDebt >= 1 {
		n.joinDebt--
		n.addNode(NewNode(n.freshName(), false), nil)
	}
	n.leaveDebt += n.params.LeaveRate
	for n.leaveDebt >= 1 && n.NodeCount() > 0 {
		n.leaveDebt--
		n.removeRandomNode()
	}

	// (b) ageing: every node survived this churn step
	for _, id := range n.SortedSectionIDs() {
		s := n.sections[id]
		for _, name := range s.sortedNames() {
			node, _ := s.Member(name)
			node.IncrementAge()
		}
	}

	// (c) attacker actions, applied by the network on the attacker's
	// behalf
	if attack != nil {
		for _, action := range attack.OnStep(n, n.rng) {
			n.applyAction(action)
		}
	}

	// ageing relocation: the environment-level anti-targeting defence
	if n.params.RelocationInterval > 0 && n.step%n.params.RelocationInterval == 0 {
		n.relocateAged()
	}

	// (d) size bounds
	if err := n.mergeUndersized(); err != nil {
		return err
	}
	n.splitOversized()
	return nil
}

// freshName draws node names until one is unused.
func (n *Network) freshName() NodeName {
	for {
		name := newNodeName(n.rng)
		if _, taken := n.index[name]; !taken {
			return name
		}
	}
}

// addNode places a node into the target section, or a uniformly random one
// when target is nil or gone.
func (n *Network) addNode(node *Node, target *SectionID) SectionID {
	var dest *Section
	if target != nil {
		if s, ok := n.sections[*target]; ok {
			dest = s
		}
	}
	if dest == nil {
		ids := n.SortedSectionIDs()
		dest = n.sections[ids[n.rng.Intn(len(ids))]]
	}
	dest.Add(node)
	n.index[node.Name()] = dest.ID()
	return dest.ID()
}

func (n *Network) removeNode(name NodeName) (*Node, bool) {
	id, ok := n.index[name]
	if !ok {
		return nil, false
	}
	node, _ := n.sections[id].Remove(name)
	delete(n.index, name)
	return node, true
}

// removeRandomNode drops one node chosen uniformly over the whole network.
func (n *Network) removeRandomNode() {
	total := n.NodeCount()
	if total == 0 {
		return
	}
	pick := uint64(n.rng.Int63n(int64(total)))
	for _, id := range n.SortedSectionIDs() {
		s := n.sections[id]
		if pick >= s.Size() {
			pick -= s.Size()
			continue
		}
		name := s.sortedNames()[pick]
		n.removeNode(name)
		return
	}
}

func (n *Network) applyAction(action AttackAction) {
	switch action.Kind {
	case ActionJoin:
		n.addNode(NewNode(n.freshName(), true), action.Target)
	case ActionReset:
		if _, ok := n.removeNode(action.Node); !ok {
			return
		}
		// the identity is destroyed; the replacement starts at age
		// zero under a fresh name
		n.addNode(NewNode(n.freshName(), true), action.Target)
	}
}

// relocateAged moves every node above the age threshold to a uniformly random
// other section. Relocation is skipped for nodes whose departure would push
// their section below min_size, as blocking beats violating the invariant.
func (n *Network) relocateAged() {
	type move struct {
		name NodeName
		from SectionID
	}
	var pending []move
	for _, id := range n.SortedSectionIDs() {
		s := n.sections[id]
		for _, name := range s.sortedNames() {
			node, _ := s.Member(name)
			if node.Age() > n.params.AgeThreshold {
				pending = append(pending, move{name: name, from: id})
			}
		}
	}
	for _, mv := range pending {
		from, ok := n.sections[mv.from]
		if !ok || from.Size() <= n.params.MinSize {
			continue
		}
		others := make([]SectionID, 0, len(n.sections)-1)
		for _, id := range n.SortedSectionIDs() {
			if id != mv.from {
				others = append(others, id)
			}
		}
		if len(others) == 0 {
			continue
		}
		node, ok := from.Remove(mv.name)
		if !ok {
			continue
		}
		dest := n.sections[others[n.rng.Intn(len(others))]]
		dest.Add(node)
		n.index[mv.name] = dest.ID()
	}
}

// mergeUndersized merges every section below min_size into the live section
// with the numerically nearest id. A lone undersized section is fatal.
func (n *Network) mergeUndersized() error {
	for {
		var victim *Section
		for _, id := range n.SortedSectionIDs() {
			if s := n.sections[id]; s.Size() < n.params.MinSize {
				victim = s
				break
			}
		}
		if victim == nil {
			return nil
		}
		if len(n.sections) == 1 {
			log.Error("cannot sustain min_size",
				"section", victim.ID(), "size", victim.Size(), "min_size", n.params.MinSize)
			return ErrNoMergeTarget
		}
		target := n.nearestSection(victim.ID())
		for _, name := range victim.sortedNames() {
			node, _ := victim.Remove(name)
			target.Add(node)
			n.index[name] = target.ID()
		}
		delete(n.sections, victim.ID())
		log.Debug("merged section",
			"from", victim.ID(), "into", target.ID(), "size", target.Size())
	}
}

// nearestSection picks the merge target: the other section whose id is
// numerically closest, ties toward the smaller id.
func (n *Network) nearestSection(id SectionID) *Section {
	var best *Section
	var bestDist uint64
	for _, other := range n.SortedSectionIDs() {
		if other == id {
			continue
		}
		dist := uint64(other) - uint64(id)
		if other < id {
			dist = uint64(id) - uint64(other)
		}
		if best == nil || dist < bestDist {
			best = n.sections[other]
			bestDist = dist
		}
	}
	return best
}

// splitOversized splits every section above max_size into two roughly equal
// halves. Members are partitioned by the hash ordering; the lower-hashed half
// keeps the section id, the rest form a new section.
func (n *Network) splitOversized() {
	for {
		var victim *Section
		for _, id := range n.SortedSectionIDs() {
			if s := n.sections[id]; s.Size() > n.params.MaxSize {
				victim = s
				break
			}
		}
		if victim == nil {
			return
		}
		order := victim.splitOrder()
		sibling := NewSection(n.nextID)
		n.nextID++
		for _, name := range order[(len(order)+1)/2:] {
			node, _ := victim.Remove(name)
			sibling.Add(node)
			n.index[name] = sibling.ID()
		}
		n.sections[sibling.ID()] = sibling
		log.Debug("split section",
			"id", victim.ID(), "sibling", sibling.ID(),
			"left", victim.Size(), "right", sibling.Size())
	}
}
