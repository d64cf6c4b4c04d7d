package simulation

import (
	"encoding/binary"
	"fmt"
	"sort"

	"lukechampine.com/blake3"
)

// SectionID identifies a section. Ids are allocated sequentially by the
// network; the id of a splitting section survives in the half that keeps the
// lower-hashed members.
type SectionID uint64

func (id SectionID) String() string {
	return fmt.Sprintf("%#x", uint64(id))
}

// Section is a group of nodes over which a single quorum decision is
// evaluated. Membership is unique by node name; order is irrelevant.
type Section struct {
	id      SectionID
	members map[NodeName]*Node
}

func NewSection(id SectionID) *Section {
	return &Section{
		id:      id,
		members: make(map[NodeName]*Node),
	}
}

func (s *Section) ID() SectionID {
	return s.id
}

func (s *Section) Size() uint64 {
	return uint64(len(s.members))
}

func (s *Section) Contains(name NodeName) bool {
	_, ok := s.members[name]
	return ok
}

func (s *Section) Member(name NodeName) (*Node, bool) {
	node, ok := s.members[name]
	return node, ok
}

// Add inserts a node. Adding a name that is already a member is a programming
// error upstream; the caller draws fresh names until the insert succeeds.
func (s *Section) Add(node *Node) bool {
	if _, ok := s.members[node.Name()]; ok {
		return false
	}
	s.members[node.Name()] = node
	return true
}

func (s *Section) Remove(name NodeName) (*Node, bool) {
	node, ok := s.members[name]
	if !ok {
		return nil, false
	}
	delete(s.members, name)
	return node, true
}

func (s *Section) MaliciousCount() uint64 {
	var count uint64
	for _, node := range s.members {
		if node.Malicious() {
			count++
		}
	}
	return count
}

func (s *Section) MaliciousFraction() float64 {
	if len(s.members) == 0 {
		return 0
	}
	return float64(s.MaliciousCount()) / float64(len(s.members))
}

// sortedNames returns member names in ascending order, for deterministic
// iteration wherever the random stream is consumed.
func (s *Section) sortedNames() []NodeName {
	names := make([]NodeName, 0, len(s.members))
	for name := range s.members {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// splitOrder returns member names ordered by the blake3 hash of the name.
// Hashing decouples the split from the name distribution, so neither half is
// biased toward nodes an attacker named deliberately.
func (s *Section) splitOrder() []NodeName {
	names := s.sortedNames()
	sort.SliceStable(names, func(i, j int) bool {
		return splitKey(names[i]) < splitKey(names[j])
	})
	return names
}

func splitKey(name NodeName) uint64 {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(name))
	sum := blake3.Sum256(buf[:])
	return binary.BigEndian.Uint64(sum[:8])
}

// Tally summarizes a section for quorum evaluation, counting the nodes
// selected by the responders predicate as responding.
func (s *Section) Tally(responders func(*Node) bool) Tally {
	var t Tally
	for _, node := range s.members {
		t.TotalCount++
		t.TotalAge += node.Age()
		if responders(node) {
			t.RespondingCount++
			t.RespondingAge += node.Age()
			if node.Malicious() {
				t.RespondingMalicious++
			} else {
				t.RespondingHonest++
			}
		}
	}
	return t
}
