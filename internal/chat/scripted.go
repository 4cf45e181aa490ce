package chat

import (
	"context"
	"time"
)

// Scripted is a Streamer that replays a fixed response. It backs dry
// runs and tests where no external model should be called.
type Scripted struct {
	// Response is the full text to return.
	Response string
	// ChunkSize controls how many bytes each streamed delta carries.
	// Zero means the whole response in one delta.
	ChunkSize int
	// Delay is an optional pause before each delta, simulating latency.
	Delay time.Duration
	// Err, when set, is delivered as a stream failure instead of output.
	Err error
}

// StreamChat replays the scripted response as a sequence of deltas.
func (s *Scripted) StreamChat(ctx context.Context, _ []Message) (<-chan Delta, error) {
	out := make(chan Delta)

	go func() {
		defer close(out)

		if s.Err != nil {
			s.wait(ctx)
			select {
			case out <- Delta{Err: s.Err}:
			case <-ctx.Done():
			}
			return
		}

		chunk := s.ChunkSize
		if chunk <= 0 {
			chunk = len(s.Response)
		}
		for i := 0; i < len(s.Response); i += chunk {
			if !s.wait(ctx) {
				return
			}
			end := i + chunk
			if end > len(s.Response) {
				end = len(s.Response)
			}
			select {
			case out <- Delta{Text: s.Response[i:end]}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// Chat returns the scripted response in one piece.
func (s *Scripted) Chat(ctx context.Context, _ []Message) (string, error) {
	if !s.wait(ctx) {
		return "", ctx.Err()
	}
	if s.Err != nil {
		return "", s.Err
	}
	return s.Response, nil
}

// wait sleeps for the configured delay, returning false when the
// context is cancelled first.
func (s *Scripted) wait(ctx context.Context) bool {
	if s.Delay <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-time.After(s.Delay):
		return true
	case <-ctx.Done():
		return false
	}
}
