// Package cmdlog wraps a command run with its log lines and metrics.
package cmdlog

import (
	"time"

	"tweetgraph/internal/logging"
	"tweetgraph/internal/metrics"
)

// Run runs f as the named command, counting the run and any error and
// timing it.
func Run(cmd string, f func() error) error {
	start := time.Now()
	metrics.IncCommandRun(cmd)
	log := logging.For("cmd").WithField("command", cmd)
	log.Debug("Starting")

	err := f()
	metrics.ObserveJobDuration(cmd, start)
	if err != nil {
		metrics.IncCommandError(cmd)
		log.WithError(err).Error("Command failed")
		return err
	}
	log.WithField("elapsed", time.Since(start).Round(time.Millisecond)).Info("Command finished")
	return nil
}
