package simulation

import (
	"fmt"

	"github.com/dominant-strategies/go-quai/event"
)

// Metric names recorded by the engine. Per-section series are suffixed with
// the section id.
const (
	MetricNumSections    = "num_sections"
	MetricNumNodes       = "num_nodes"
	MetricNumMalicious   = "num_malicious"
	MetricMostMalicious  = "most_malicious_fraction"
	MetricSectionSize    = "section_size"
	MetricSectionMal     = "section_malicious_fraction"
	MetricCumCompromised = "cumulative_p_compromised"
	MetricCumLost        = "cumulative_p_lost"
)

// Point is one step-indexed observation.
type Point struct {
	Step  uint64  `json:"step" yaml:"step"`
	Value float64 `json:"value" yaml:"value"`
}

// Series is a named sequence of step-indexed values, independently
// serializable for whatever presentation layer consumes it.
type Series struct {
	Name   string  `json:"name" yaml:"name"`
	Points []Point `json:"points" yaml:"points"`
}

// Sample is one recorded point, as broadcast to subscribers.
type Sample struct {
	Name  string `json:"name"`
	Point Point  `json:"point"`
}

// Recorder accumulates named series and broadcasts every recorded point on a
// feed, so external consumers can either read the series afterwards or
// stream them live.
type Recorder struct {
	series map[string]*Series
	order  []string
	feed   event.Feed
}

func NewRecorder() *Recorder {
	return &Recorder{series: make(map[string]*Series)}
}

func (r *Recorder) Record(name string, step uint64, value float64) {
	s, ok := r.series[name]
	if !ok {
		s = &Series{Name: name}
		r.series[name] = s
		r.order = append(r.order, name)
	}
	point := Point{Step: step, Value: value}
	s.Points = append(s.Points, point)
	r.feed.Send(Sample{Name: name, Point: point})
}

// SubscribeSamples streams every future recorded point to ch.
func (r *Recorder) SubscribeSamples(ch chan<- Sample) event.Subscription {
	return r.feed.Subscribe(ch)
}

// Series returns all series in first-recorded order.
func (r *Recorder) Series() []Series {
	out := make([]Series, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, *r.series[name])
	}
	return out
}

func (r *Recorder) SeriesByName(name string) (Series, bool) {
	s, ok := r.series[name]
	if !ok {
		return Series{}, false
	}
	return *s, true
}

// ObserveNetwork records the standard network metrics for the current step.
func (r *Recorder) ObserveNetwork(net *Network) {
	if r == nil {
		return
	}
	step := net.Step()
	r.Record(MetricNumSections, step, float64(net.SectionCount()))
	r.Record(MetricNumNodes, step, float64(net.NodeCount()))
	r.Record(MetricNumMalicious, step, float64(net.MaliciousNodeCount()))

	var most float64
	for _, id := range net.SortedSectionIDs() {
		s, _ := net.Section(id)
		frac := s.MaliciousFraction()
		if frac > most {
			most = frac
		}
		r.Record(fmt.Sprintf("%s/%s", MetricSectionSize, id), step, float64(s.Size()))
		if frac > 0 {
			r.Record(fmt.Sprintf("%s/%s", MetricSectionMal, id), step, frac)
		}
	}
	r.Record(MetricMostMalicious, step, most)
}
