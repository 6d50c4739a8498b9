package logging

import (
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
)

// Lifecycle actions, logged in the "action" field
const (
	ActionServiceStarted     = "service_started"
	ActionGracefulShutdown   = "graceful_shutdown"
	ActionSnapshotApplied    = "snapshot_applied"
	ActionSnapshotFailed     = "snapshot_failed"
	ActionEventApplied       = "event_applied"
	ActionEventDropped       = "event_dropped"
	ActionOrderCreated       = "order_created"
	ActionOrderCreateFailed  = "order_create_failed"
	ActionStatusUpdated      = "status_updated"
	ActionStatusUpdateFailed = "status_update_failed"
	ActionMutationRejected   = "mutation_rejected"
	ActionStreamConnected    = "stream_connected"
	ActionStreamDisconnected = "stream_disconnected"
	ActionStreamReconnecting = "stream_reconnecting"
	ActionMessageFailed      = "message_processing_failed"
	ActionAckFailed          = "ack_failed"
	ActionSubscribed         = "subscribed"
	ActionUnsubscribed       = "unsubscribed"
	ActionRequestFailed      = "request_failed"
)

// New builds a logger writing to out. format is "json" or "text".
func New(level, format string, out io.Writer) (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	log := logrus.New()
	log.SetOutput(out)
	log.SetLevel(lvl)

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	case "text":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}

	return log, nil
}

// Component returns an entry tagged with the component name
func Component(log *logrus.Logger, name string) *logrus.Entry {
	return log.WithField("component", name)
}

// Discard returns an entry that writes nowhere, for tests
func Discard() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}
