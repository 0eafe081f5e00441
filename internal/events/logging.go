package events

import "github.com/sirupsen/logrus"

// LoggingSubscriber adapts lifecycle events onto a structured logrus entry.
// It is always registered by cmd/builder alongside the metrics subscriber so
// the event bus is the single seam ambient observability attaches through.
func LoggingSubscriber(log *logrus.Logger) Subscriber {
	return func(e Event) {
		fields := logrus.Fields{"event": string(e.Kind)}
		if e.TargetID != "" {
			fields["target"] = e.TargetID
		}
		if e.Language != "" {
			fields["language"] = e.Language
		}
		if e.Error != nil {
			fields["error"] = e.Error.Error()
		}

		entry := log.WithFields(fields)
		switch e.Kind {
		case KindTargetFailed, KindBuildFailed:
			entry.Error(e.Message)
		case KindMessage:
			logMessage(entry, e)
		default:
			entry.Debug(eventSummary(e))
		}
	}
}

func logMessage(entry *logrus.Entry, e Event) {
	switch e.Severity {
	case SeverityDebug:
		entry.Debug(e.Message)
	case SeverityWarning:
		entry.Warn(e.Message)
	case SeverityError, SeverityCritical:
		entry.Error(e.Message)
	default:
		entry.Info(e.Message)
	}
}

func eventSummary(e Event) string {
	switch e.Kind {
	case KindTargetCompleted:
		return "target completed"
	case KindTargetCached:
		return "target served from cache"
	case KindTargetStarted:
		return "target started"
	case KindBuildStarted:
		return "build started"
	case KindBuildCompleted:
		return "build completed"
	default:
		return string(e.Kind)
	}
}
