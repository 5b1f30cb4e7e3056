package events

import (
	"context"
	"fmt"
	"time"

	"github.com/liveqa/project/internal/docstore"
)

var demoImages = []string{
	"https://res.cloudinary.com/demo/image/upload/f_auto,q_auto,w_800,h_450,c_fill/sample.jpg",
	"https://res.cloudinary.com/demo/image/upload/f_auto,q_auto,w_800,h_450,c_fill/beach.jpg",
	"https://res.cloudinary.com/demo/image/upload/f_auto,q_auto,w_800,h_450,c_fill/dog.jpg",
	"https://res.cloudinary.com/demo/image/upload/f_auto,q_auto,w_800,h_450,c_fill/kitten.jpg",
}

// DemoEvents builds count scheduled events numbered from startFrom+1,
// alternating AMA and watch-party and starting one hour apart.
func DemoEvents(now time.Time, count, startFrom int) []Event {
	out := make([]Event, 0, count)
	for i := startFrom; i < startFrom+count; i++ {
		e := Event{
			Title:     fmt.Sprintf("Watch-Party #%d", i+1),
			Type:      TypeWatchParty,
			State:     StateScheduled,
			ImageURL:  demoImages[i%len(demoImages)],
			StartTime: docstore.TimestampFrom(now.Add(time.Duration(i+1) * time.Hour)),
		}
		if i%2 == 0 {
			e.Title = fmt.Sprintf("Ask-Me-Anything #%d", i+1)
			e.Type = TypeAMA
		}
		out = append(out, e)
	}
	return out
}

// SeedDemo appends count demo events after the ones already stored.
// Individual failures are logged and skipped.
func (s *Service) SeedDemo(ctx context.Context, count int) ([]Event, error) {
	existing, err := s.Count(ctx)
	if err != nil {
		return nil, err
	}
	created := make([]Event, 0, count)
	for _, e := range DemoEvents(s.Now(), count, int(existing)) {
		saved, err := s.Create(ctx, e)
		if err != nil {
			s.Log.WithError(err).WithField("title", e.Title).Warn("seed demo event failed")
			continue
		}
		created = append(created, saved)
	}
	s.Log.WithField("count", len(created)).Info("seeded demo events")
	return created, nil
}
