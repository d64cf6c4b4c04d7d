package main

import (
	"context"
	"os"

	logging "github.com/inconshreveable/log15"

	"github.com/quorumnet/quorumsim/simulation"
)

var log = logging.New("module", "main")

// Runs every tool over one scenario and logs the estimates. The scenario
// comes from an optional YAML file argument, otherwise the defaults.
func main() {
	log.SetHandler(logging.LvlFilterHandler(logging.LvlInfo, logging.StdoutHandler))
	simulation.SetLogging(logging.LvlInfo, logging.StdoutHandler)

	params := simulation.DefaultParams()
	if len(os.Args) > 1 {
		var err error
		params, err = simulation.LoadParams(os.Args[1])
		if err != nil {
			log.Error("loading scenario", "error", err)
			os.Exit(1)
		}
	}
	if err := params.Validate(); err != nil {
		log.Error("invalid scenario", "error", err)
		os.Exit(1)
	}

	direct, err := simulation.NewDirectCalcTool(params)
	if err != nil {
		log.Error("direct calc setup", "error", err)
		os.Exit(1)
	}
	structure, err := simulation.NewSimStructureTool(params)
	if err != nil {
		log.Error("structure sim setup", "error", err)
		os.Exit(1)
	}
	harness, err := simulation.NewMonteCarlo(params)
	if err != nil {
		log.Error("monte carlo setup", "error", err)
		os.Exit(1)
	}

	for _, tool := range []simulation.Tool{direct, structure} {
		result, err := tool.Calc()
		if err != nil {
			log.Error("tool failed", "tool", tool.Description(), "error", err)
			os.Exit(1)
		}
		log.Info(tool.Description(),
			"p_lost_quorum", result.PLostQuorum,
			"p_compromised_quorum", result.PCompromisedQuorum)
	}

	recorder := simulation.NewRecorder()
	harness.SetRecorder(recorder)
	stats, _, err := harness.Run(context.Background())
	if err != nil {
		log.Error("monte carlo failed", "error", err)
		os.Exit(1)
	}
	log.Info(harness.Description(),
		"p_lost_quorum", stats.PLost,
		"p_compromised_quorum", stats.PCompromised,
		"samples", stats.Samples)
	if stats.CompromisedInterval != nil {
		log.Info("compromise confidence interval",
			"low", stats.CompromisedInterval.Low,
			"high", stats.CompromisedInterval.High)
	}
}
