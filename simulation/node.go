package simulation

import (
	"fmt"
	"math/rand"
)

// NodeName identifies a node for the lifetime of one identity. A node that
// resets (leaves and rejoins) gets a fresh name and a fresh age.
type NodeName uint64

func (n NodeName) String() string {
	return fmt.Sprintf("%#016x", uint64(n))
}

// newNodeName draws a name from the run's random stream.
func newNodeName(rng *rand.Rand) NodeName {
	return NodeName(rng.Uint64())
}

// Node is the atomic entity of the model: an age counter and an immutable
// malicious flag. Age counts the churn steps this identity has survived.
type Node struct {
	name      NodeName
	age       uint64
	malicious bool
}

func NewNode(name NodeName, malicious bool) *Node {
	return &Node{name: name, malicious: malicious}
}

func (n *Node) Name() NodeName {
	return n.name
}

func (n *Node) Age() uint64 {
	return n.age
}

func (n *Node) Malicious() bool {
	return n.malicious
}

// IncrementAge records one survived churn step.
func (n *Node) IncrementAge() {
	n.age++
}
