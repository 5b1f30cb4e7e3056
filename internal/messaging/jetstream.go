package messaging

import (
	"errors"

	"github.com/nats-io/nats.go"
)

const (
	ChangesStream = "CHANGES"
	NotifyStream  = "NOTIFY"
)

var streams = []nats.StreamConfig{
	{
		Name:      ChangesStream,
		Subjects:  []string{"app.change.>"},
		Retention: nats.LimitsPolicy,
		Storage:   nats.FileStorage,
		Replicas:  1,
	},
	{
		Name:      NotifyStream,
		Subjects:  []string{"app.notify.>"},
		Retention: nats.LimitsPolicy,
		Storage:   nats.FileStorage,
		Replicas:  1,
	},
}

// EnsureStreams creates (or validates) the streams required locally:
// - app.change.> document change batches
// - app.notify.> reminder deliveries
func EnsureStreams(js nats.JetStreamContext) error {
	for i := range streams {
		cfg := streams[i]
		if _, err := js.StreamInfo(cfg.Name); err != nil {
			if !errors.Is(err, nats.ErrStreamNotFound) {
				return err
			}
			if _, addErr := js.AddStream(&cfg); addErr != nil {
				return addErr
			}
		}
	}
	return nil
}
