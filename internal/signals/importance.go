package signals

import "strings"

const (
	minImportance  = 1
	maxImportance  = 10
	baseImportance = 5
	longMessage    = 20
)

var emotionalTopics = map[string]bool{
	TopicFamily:        true,
	TopicFaith:         true,
	TopicRelationships: true,
	TopicHealth:        true,
}

// Importance scores a turn from 1 to 10: base 5, +2 for a non-neutral
// sentiment, +2 when an emotionally significant topic is present, +1 for a
// question and +1 for a message longer than 20 words.
func Importance(message string, topics []string, sentiment Sentiment) int {
	score := baseImportance
	if sentiment != Neutral {
		score += 2
	}
	for _, t := range topics {
		if emotionalTopics[t] {
			score += 2
			break
		}
	}
	if strings.Contains(message, "?") {
		score++
	}
	if len(strings.Fields(message)) > longMessage {
		score++
	}
	return clamp(score, minImportance, maxImportance)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
