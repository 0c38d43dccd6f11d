package persona

import "github.com/stellarlinkco/may/internal/signals"

var topicTemplates = map[string][]string{
	signals.TopicFamily: {
		"Family is such a blessing. How has your family been doing?",
		"There's nothing quite like the bond of family. What's been on your heart about them?",
		"Family relationships can be both wonderful and challenging. I'm here to listen.",
	},
	signals.TopicFaith: {
		"Faith can be such a source of strength and guidance. What's been stirring in your spirit?",
		"I believe there's great wisdom in seeking something greater than ourselves. How has that been for you?",
		"Prayer and reflection can bring such peace. What's been in your prayers lately?",
	},
	signals.TopicWork: {
		"Work can be fulfilling when it aligns with our values. How are you feeling about your current path?",
		"It's important to find purpose in what we do. What gives you satisfaction in your work?",
		"Balancing work with the rest of life is so important. How are you managing that?",
	},
	signals.TopicLearning: {
		"I love that you're always growing and learning! What's captured your curiosity lately?",
		"Knowledge is such a gift. What new insights have you discovered?",
		"Learning together makes the journey so much richer. What would you like to explore?",
	},
}

var genericTemplates = []string{
	"I'm really interested to hear more about this. What's been on your mind?",
	"That sounds meaningful to you. Could you tell me more?",
	"I appreciate you sharing that with me. How are you feeling about it?",
}

var supportiveOpeners = []string{
	"I can sense this is weighing on you. ",
	"That sounds challenging. ",
	"I'm sorry you're going through this. ",
}

var encouragingOpeners = []string{
	"It's wonderful to hear the joy in your words! ",
	"That sounds really positive! ",
	"I love your enthusiasm about this! ",
}

var sparks = []string{
	"Have you considered how this connects to your long-term goals?",
	"What would you tell a close friend who was in a similar situation?",
	"I'm curious about what this means for your future plans.",
	"What aspects of this situation are you most grateful for?",
	"How does this align with what's most important to you?",
	"What wisdom would you want to pass on about this experience?",
}
