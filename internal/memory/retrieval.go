package memory

import (
	"context"

	"github.com/stellarlinkco/may/internal/signals"
)

const DefaultRetrievalLimit = 3

// Retrieve returns up to limit past turns relevant to message. Each topic of
// the message is queried in turn; results are concatenated in topic order
// without removing duplicates, then truncated. A turn tagged with two of the
// message's topics can therefore appear twice.
func (s *Store) Retrieve(ctx context.Context, message string, limit int) ([]Turn, error) {
	if limit <= 0 {
		limit = DefaultRetrievalLimit
	}
	topics := signals.Topics(message)

	out := make([]Turn, 0, limit)
	for _, topic := range topics {
		turns, err := s.TurnsForTopic(ctx, topic, limit)
		if err != nil {
			return nil, err
		}
		out = append(out, turns...)
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
