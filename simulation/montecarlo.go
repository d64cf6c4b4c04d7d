package simulation

import (
	"context"
	"math"
	"runtime"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat/distuv"
)

// Interval is a confidence interval around a probability estimate, clamped
// to [0, 1].
type Interval struct {
	Low  float64 `json:"low" yaml:"low"`
	High float64 `json:"high" yaml:"high"`
}

// AggregateStats is the harness output: the two estimates, how many runs
// produced them, and optional binomial confidence intervals.
type AggregateStats struct {
	PLost        float64 `json:"p_lost" yaml:"p_lost"`
	PCompromised float64 `json:"p_compromised" yaml:"p_compromised"`
	Samples      uint64  `json:"samples" yaml:"samples"`

	LostInterval        *Interval `json:"lost_interval,omitempty" yaml:"lost_interval,omitempty"`
	CompromisedInterval *Interval `json:"compromised_interval,omitempty" yaml:"compromised_interval,omitempty"`
}

// MonteCarlo repeats independent FullSimTool runs and reduces their results
// by summation. Runs share no mutable state: each owns a random stream
// derived from the base seed and its run index, so the aggregate is
// reproducible and independent of scheduling.
type MonteCarlo struct {
	params   Params
	tool     *FullSimTool
	recorder *Recorder
}

func NewMonteCarlo(params Params) (*MonteCarlo, error) {
	tool, err := NewFullSimTool(params)
	if err != nil {
		return nil, err
	}
	return &MonteCarlo{params: params, tool: tool}, nil
}

func (m *MonteCarlo) Description() string {
	return "aggregate repeated full simulations into probability estimates"
}

// SetRecorder attaches a recorder for the cumulative estimate series,
// indexed by completed run count.
func (m *MonteCarlo) SetRecorder(r *Recorder) {
	m.recorder = r
}

func (m *MonteCarlo) Calc() (Result, error) {
	stats, _, err := m.Run(context.Background())
	if err != nil {
		return Result{}, err
	}
	return Result{
		PLostQuorum:        stats.PLost,
		PCompromisedQuorum: stats.PCompromised,
	}, nil
}

type runOutcome struct {
	index  uint64
	result SimulationResult
	err    error
}

// Run dispatches the configured number of runs across a worker pool and
// reduces afterwards. The context is only consulted between runs: when it
// expires, remaining runs are skipped and the partial sample count is
// reported. A failing run aborts the harness; its error carries the seed
// needed to replay it.
func (m *MonteCarlo) Run(ctx context.Context) (AggregateStats, []SimulationResult, error) {
	runs := m.params.Sim.Runs
	workers := m.params.Sim.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if uint64(workers) > runs {
		workers = int(runs)
	}

	dispatchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan uint64)
	out := make(chan runOutcome, int(runs))

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for index := range jobs {
				result, err := m.tool.RunOnce(index)
				out <- runOutcome{index: index, result: result, err: err}
				if err != nil {
					cancel()
					return
				}
			}
		}()
	}
	go func() {
		defer close(jobs)
		for i := uint64(0); i < runs; i++ {
			if dispatchCtx.Err() != nil {
				return
			}
			select {
			case jobs <- i:
			case <-dispatchCtx.Done():
				return
			}
		}
	}()
	go func() {
		wg.Wait()
		close(out)
	}()

	var outcomes []runOutcome
	var firstErr error
	for oc := range out {
		if oc.err != nil {
			if firstErr == nil {
				firstErr = oc.err
			}
			continue
		}
		outcomes = append(outcomes, oc)
	}
	if firstErr != nil {
		return AggregateStats{}, nil, firstErr
	}
	if len(outcomes) == 0 {
		return AggregateStats{}, nil, errors.New("no simulation runs completed before deadline")
	}
	if uint64(len(outcomes)) < runs {
		log.Warn("deadline reached, reporting partial sample",
			"completed", len(outcomes), "requested", runs)
	}

	// stable raw sequence regardless of completion order
	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].index < outcomes[j].index })
	results := make([]SimulationResult, len(outcomes))
	for i, oc := range outcomes {
		results[i] = oc.result
	}

	stats := m.reduce(results)
	return stats, results, nil
}

// reduce sums the per-run booleans into estimates; summation is associative
// and commutative, so completion order cannot affect the aggregate.
func (m *MonteCarlo) reduce(results []SimulationResult) AggregateStats {
	var lost, compromised uint64
	for i, r := range results {
		if r.LostQuorum {
			lost++
		}
		if r.CompromisedQuorum {
			compromised++
		}
		if m.recorder != nil {
			n := float64(i + 1)
			m.recorder.Record(MetricCumLost, uint64(i+1), float64(lost)/n)
			m.recorder.Record(MetricCumCompromised, uint64(i+1), float64(compromised)/n)
		}
	}

	samples := uint64(len(results))
	stats := AggregateStats{
		PLost:        float64(lost) / float64(samples),
		PCompromised: float64(compromised) / float64(samples),
		Samples:      samples,
	}
	if conf := m.params.Sim.Confidence; conf > 0 {
		li := binomialInterval(stats.PLost, samples, conf)
		ci := binomialInterval(stats.PCompromised, samples, conf)
		stats.LostInterval = &li
		stats.CompromisedInterval = &ci
	}
	log.Info("monte carlo aggregate",
		"samples", samples,
		"p_lost", stats.PLost, "p_compromised", stats.PCompromised)
	return stats
}

// binomialInterval is the normal approximation around a binomial proportion;
// the standard error shrinks as 1/sqrt(n).
func binomialInterval(pHat float64, n uint64, confidence float64) Interval {
	z := distuv.Normal{Mu: 0, Sigma: 1}.Quantile(1 - (1-confidence)/2)
	se := math.Sqrt(pHat * (1 - pHat) / float64(n))
	return Interval{
		Low:  math.Max(0, pHat-z*se),
		High: math.Min(1, pHat+z*se),
	}
}
