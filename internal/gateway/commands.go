package gateway

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/stellarlinkco/may/internal/bus"
	"github.com/stellarlinkco/may/internal/memory"
)

const (
	memoriesShown     = 10
	memoryPreviewLen  = 60
	commandsOverview  = "/help - Show this message\n/memories - See our conversation history\n/profile - View your profile\n/clear - Clear conversation context"
	clearReply        = "Conversation context cleared! Ready for a fresh start. What's on your mind?"
	noMemoriesReply   = "We haven't had any conversations to remember yet! Let's start chatting!"
	memoriesFailReply = "Sorry, I couldn't retrieve our conversation memories right now."
	noProfileReply    = "I don't have a profile for you yet. Let's chat more so I can get to know you!"
)

const helpReply = `**May Commands:**

/start - Start a conversation with May
/help - Show this help message
/memories - View our conversation history
/profile - See your user profile
/clear - Clear the current conversation context

**About May:**
May is a thoughtful companion who remembers your conversations and cares about what matters to you. She's built around strong moral values and loves deep, meaningful discussions.

Just send me any message to start chatting!`

// handle answers one inbound message: slash commands first, everything else
// goes through the shared session. Empty text is an ordinary turn with no
// topics.
func (g *Gateway) handle(ctx context.Context, msg bus.InboundMessage) string {
	content := strings.TrimSpace(msg.Content)
	if cmd, ok := parseCommand(content); ok {
		switch cmd {
		case "start":
			return g.cmdStart(ctx, msg)
		case "help":
			return helpReply
		case "memories":
			return g.cmdMemories(ctx)
		case "profile":
			return g.cmdProfile()
		case "clear":
			return clearReply
		}
	}
	return g.session.ProcessTurn(ctx, content)
}

// parseCommand extracts the command name from "/name@bot args".
func parseCommand(content string) (string, bool) {
	if !strings.HasPrefix(content, "/") {
		return "", false
	}
	name := strings.Fields(content)[0][1:]
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	return strings.ToLower(name), name != ""
}

func (g *Gateway) cmdStart(ctx context.Context, msg bus.InboundMessage) string {
	name := msg.SenderName()
	p, created, err := g.session.EnsureProfile(ctx, name)
	if err != nil {
		log.Printf("[gateway] /start profile: %v", err)
		name = strings.TrimSpace(name)
		if name == "" {
			name = "friend"
		}
	} else {
		name = p.Name
		if created {
			log.Printf("[gateway] created profile for %s", name)
		}
	}

	return fmt.Sprintf(`Hello %s! I'm May, your companion.

I'm here to have meaningful conversations with you. I remember what we talk about and care about the things that matter to you.

My core values are rooted in:
- Honesty and truth
- Compassion and kindness
- Respect for life and dignity
- Faith and moral integrity
- Family and relationships
- Learning and growth

What would you like to talk about today?

Commands:
%s`, name, commandsOverview)
}

func (g *Gateway) cmdMemories(ctx context.Context) string {
	turns, err := g.session.RecentTurns(ctx, "", memoriesShown)
	if err != nil {
		log.Printf("[gateway] /memories: %v", err)
		return memoriesFailReply
	}
	if len(turns) == 0 {
		return noMemoriesReply
	}

	var sb strings.Builder
	sb.WriteString("**Our Recent Conversations:**\n\n")
	for _, t := range turns {
		fmt.Fprintf(&sb, "- **%s** (%s)\n", titleCase(t.Topic), t.Timestamp.Local().Format("01/02 15:04"))
		fmt.Fprintf(&sb, "  \"%s\"\n", truncate(t.UserMessage, memoryPreviewLen))
		fmt.Fprintf(&sb, "  *Importance: %d*\n\n", t.Importance)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (g *Gateway) cmdProfile() string {
	p, ok := g.session.Profile()
	if !ok {
		return noProfileReply
	}
	return formatProfile(p)
}

func formatProfile(p memory.Profile) string {
	interests := "Getting to know you!"
	if len(p.Interests) > 0 {
		interests = strings.Join(p.Interests, ", ")
	}
	values := "Learning about what matters to you!"
	if len(p.Values) > 0 {
		values = strings.Join(p.Values, ", ")
	}
	return fmt.Sprintf(`**Your Profile:**

**Name:** %s
**Relationship Level:** %d/10
**Last Interaction:** %s

**Interests:** %s
**Values:** %s

Let's keep chatting so I can learn more about you!`,
		p.Name, p.RelationshipLevel, p.LastInteraction.Local().Format("January 02, 2006"), interests, values)
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	return strings.ToUpper(string(r[0])) + string(r[1:])
}
