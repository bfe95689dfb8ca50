package notification

import "github.com/raykavin/trailflow/core"

// LogNotifier routes notifications to the session logger, used when no
// external notifier is configured.
type LogNotifier struct {
	log core.Logger
}

func NewLogNotifier(log core.Logger) *LogNotifier {
	if log == nil {
		log = core.NopLogger{}
	}
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(text string) { n.log.Info(text) }

func (n *LogNotifier) OnError(err error) { n.log.WithError(err).Error("notification error") }
