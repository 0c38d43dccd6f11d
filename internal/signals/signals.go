// Package signals derives the cheap lexical signals May uses to route and rank
// a message: a coarse sentiment, the topics it touches, and an importance score.
package signals

import "strings"

type Sentiment string

const (
	Positive Sentiment = "positive"
	Negative Sentiment = "negative"
	Neutral  Sentiment = "neutral"
)

const (
	TopicFamily        = "family"
	TopicWork          = "work"
	TopicLearning      = "learning"
	TopicFaith         = "faith"
	TopicRelationships = "relationships"
	TopicHealth        = "health"
	TopicGeneral       = "general"
)

var (
	positiveWords = []string{"happy", "good", "great", "love", "wonderful", "excited", "amazing"}
	negativeWords = []string{"sad", "bad", "terrible", "hate", "awful", "angry", "frustrated"}
)

// topicKeywords is ordered; Topics reports matches in this order.
var topicKeywords = []struct {
	topic    string
	keywords []string
}{
	{TopicFamily, []string{"family", "mom", "dad", "sister", "brother", "parent", "child"}},
	{TopicWork, []string{"job", "work", "career", "boss", "colleague", "project"}},
	{TopicLearning, []string{"learn", "study", "school", "education", "knowledge"}},
	{TopicFaith, []string{"god", "prayer", "faith", "belief", "church", "spiritual"}},
	{TopicRelationships, []string{"friend", "relationship", "love", "dating", "marriage"}},
	{TopicHealth, []string{"health", "sick", "doctor", "exercise", "wellness"}},
}

// Matching is plain substring containment, so "dad" also fires inside
// "daddy" and "god" inside "good". That looseness is part of the contract.

// Extract returns the sentiment and topics of message.
func Extract(message string) (Sentiment, []string) {
	lower := strings.ToLower(message)
	return sentimentOf(lower), topicsOf(lower)
}

// AnalyzeSentiment compares how many positive and negative list words appear.
// Ties, including no matches at all, are Neutral.
func AnalyzeSentiment(message string) Sentiment {
	return sentimentOf(strings.ToLower(message))
}

// Topics returns every topic with at least one keyword present, or
// ["general"] when none match. The result is never empty.
func Topics(message string) []string {
	return topicsOf(strings.ToLower(message))
}

func sentimentOf(lower string) Sentiment {
	pos := countPresent(lower, positiveWords)
	neg := countPresent(lower, negativeWords)
	switch {
	case pos > neg:
		return Positive
	case neg > pos:
		return Negative
	default:
		return Neutral
	}
}

func topicsOf(lower string) []string {
	var topics []string
	for _, entry := range topicKeywords {
		if countPresent(lower, entry.keywords) > 0 {
			topics = append(topics, entry.topic)
		}
	}
	if len(topics) == 0 {
		return []string{TopicGeneral}
	}
	return topics
}

func countPresent(lower string, words []string) int {
	n := 0
	for _, w := range words {
		if strings.Contains(lower, w) {
			n++
		}
	}
	return n
}
