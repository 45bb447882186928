package ai

import "github.com/sirupsen/logrus"

// LogFunc is the caller-supplied diagnostic sink. The pipeline calls it with
// one human-readable line per stage boundary; the format is not part of the
// external contract and nothing in this package parses it back.
type LogFunc func(string)

func noopLog(string) {}

// NewLogrusSink adapts a *logrus.Logger into a LogFunc, so callers who
// already run a structured logger can plug it straight into Options.Log
// instead of writing their own adapter.
func NewLogrusSink(logger *logrus.Logger) LogFunc {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return func(line string) {
		logger.Info(line)
	}
}
