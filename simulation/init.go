package simulation

import (
	logging "github.com/inconshreveable/log15"
)

var log logging.Logger = logging.New("module", "simulation")

func init() {
	SetLogging(logging.LvlError, logging.DiscardHandler())
}

func SetLogging(level logging.Lvl, handler logging.Handler) {
	log.SetHandler(logging.LvlFilterHandler(level, handler))
}
