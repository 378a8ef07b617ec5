package orchestrator

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/answerlens/answerlens/internal/model"
	"github.com/answerlens/answerlens/internal/store"
)

// Streamer is the read side of the run event log: full backlog first, then a
// polling tail. It never writes and holds no lock on the run, so it
// tolerates the run completing mid-stream.
type Streamer struct {
	store        store.Store
	pollInterval time.Duration
}

func NewStreamer(st store.Store, pollInterval time.Duration) *Streamer {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Streamer{store: st, pollInterval: pollInterval}
}

// Stream delivers a run's events to send in append order: the entire backlog
// immediately, then anything strictly newer than the last delivered event on
// each poll. When a poll finds nothing, heartbeat fires instead so clients
// and intermediaries can tell the stream is alive. Runs until ctx is done or
// a callback errors (client gone).
func (s *Streamer) Stream(ctx context.Context, runID string, send func(model.RunEvent) error, heartbeat func() error) error {
	backlog, err := s.store.ListEvents(ctx, runID)
	if err != nil {
		return eris.Wrapf(err, "stream: backlog for run %s", runID)
	}

	var watermark time.Time
	for _, ev := range backlog {
		if err := send(ev); err != nil {
			return err
		}
		watermark = ev.CreatedAt
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			events, err := s.store.ListEventsAfter(ctx, runID, watermark)
			if err != nil {
				return eris.Wrapf(err, "stream: poll run %s", runID)
			}
			if len(events) == 0 {
				if err := heartbeat(); err != nil {
					return err
				}
				continue
			}
			for _, ev := range events {
				if err := send(ev); err != nil {
					return err
				}
				watermark = ev.CreatedAt
			}
		}
	}
}
