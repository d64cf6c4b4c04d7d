package simulation

import (
	"gonum.org/v1/gonum/stat/distuv"
)

// binomialTail returns P[X >= k] for X ~ Binomial(n, p): the chance that at
// least k of n independently-sampled nodes are malicious.
func binomialTail(n uint64, p float64, k uint64) float64 {
	if k == 0 {
		return 1
	}
	if k > n || p <= 0 {
		return 0
	}
	if p >= 1 {
		return 1
	}
	dist := distuv.Binomial{N: float64(n), P: p}
	return 1 - dist.CDF(float64(k-1))
}

// sectionProbabilities is the closed-form core shared by DirectCalcTool and
// SimStructureTool: for a section of exactly n members whose composition is
// Binomial(n, f) malicious, the probability that the honest members cannot
// reach quorum (lost) and that the malicious members can (compromised).
//
// With q = rule.MinQuorumCount(n), quorum is lost when fewer than q honest
// members remain, i.e. when the malicious count reaches n-q+1; it is
// compromised when the malicious count reaches q. The age condition of
// AgeQuorum has no closed form and is not modelled here; that is what the
// full simulation is for.
func sectionProbabilities(rule QuorumRule, n uint64, f float64) (pLost, pCompromised float64) {
	if n == 0 {
		return 1, 0
	}
	q := rule.MinQuorumCount(n)
	pLost = binomialTail(n, f, n-q+1)
	pCompromised = binomialTail(n, f, q)
	return pLost, pCompromised
}
