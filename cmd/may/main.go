package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/stellarlinkco/may/internal/config"
	"github.com/stellarlinkco/may/internal/gateway"
	"github.com/stellarlinkco/may/internal/learning"
	"github.com/stellarlinkco/may/internal/memory"
	"github.com/stellarlinkco/may/internal/persona"
	"github.com/stellarlinkco/may/internal/session"
)

// newRandom supplies the composer's draws; tests replace it.
var newRandom = func() persona.Source {
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}

var rootCmd = &cobra.Command{
	Use:   "may",
	Short: "may - a companion that remembers and learns",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// .env is optional
		_ = godotenv.Load()
	},
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with May in single message or REPL mode",
	RunE:  runChat,
}

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Start the full gateway (channels + dashboard + scheduled learning)",
	RunE:  runGateway,
}

var learnCmd = &cobra.Command{
	Use:   "learn <topic>",
	Short: "Run one learning session on a topic",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runLearn,
}

var memoriesCmd = &cobra.Command{
	Use:   "memories",
	Short: "List remembered conversations",
	RunE:  runMemories,
}

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Show the user profile",
	RunE:  runProfile,
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize config, database and profile",
	RunE:  runOnboard,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show may status",
	RunE:  runStatus,
}

var (
	messageFlag string
	topicFlag   string
	limitFlag   int
	nameFlag    string
)

func init() {
	chatCmd.Flags().StringVarP(&messageFlag, "message", "m", "", "Single message to send")
	memoriesCmd.Flags().StringVar(&topicFlag, "topic", "", "Only show conversations about this topic")
	memoriesCmd.Flags().IntVar(&limitFlag, "limit", 10, "Maximum number of conversations to show")
	onboardCmd.Flags().StringVar(&nameFlag, "name", "", "Your name, used to create the profile")
	rootCmd.AddCommand(chatCmd, gatewayCmd, learnCmd, memoriesCmd, profileCmd, onboardCmd, statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func openStore(cfg *config.Config) (*memory.Store, error) {
	store, err := memory.NewStore(cfg.Memory.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open memory store: %w", err)
	}
	return store, nil
}

// openSession opens the store and a session on it, creating the configured
// profile if none exists yet.
func openSession(ctx context.Context, cfg *config.Config) (*memory.Store, *session.Session, error) {
	store, err := openStore(cfg)
	if err != nil {
		return nil, nil, err
	}
	sess, err := session.New(ctx, store, persona.NewComposer(newRandom()), session.Options{
		RetrievalLimit: cfg.Memory.RetrievalLimit,
	})
	if err != nil {
		_ = store.Close()
		return nil, nil, fmt.Errorf("create session: %w", err)
	}
	if _, ok := sess.Profile(); !ok && cfg.Profile.Name != "" {
		if _, _, err := sess.EnsureProfile(ctx, cfg.Profile.Name); err != nil {
			_ = store.Close()
			return nil, nil, err
		}
	}
	return store, sess, nil
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	ctx := context.Background()
	store, sess, err := openSession(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	stdout := cmd.OutOrStdout()

	// Single message mode
	if messageFlag != "" {
		fmt.Fprintln(stdout, sess.ProcessTurn(ctx, messageFlag))
		return nil
	}

	// REPL mode
	fmt.Fprintln(stdout, "May is listening (type 'exit' to quit)")
	scanner := bufio.NewScanner(cmd.InOrStdin())
	for {
		fmt.Fprint(stdout, "\n> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			break
		}
		fmt.Fprintln(stdout, sess.ProcessTurn(ctx, input))
	}
	return nil
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	gw, err := gateway.New(cfg)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}

	return gw.Run(context.Background())
}

func runLearn(cmd *cobra.Command, args []string) error {
	topic := strings.TrimSpace(strings.Join(args, " "))
	if topic == "" {
		return fmt.Errorf("topic is required")
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := store.SeedTrustedSources(ctx); err != nil {
		return fmt.Errorf("seed trusted sources: %w", err)
	}
	if err := store.SeedContentFilters(ctx); err != nil {
		return fmt.Errorf("seed content filters: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Learning about %q...\n", topic)
	res, err := learning.NewEngine(store, cfg.Learning, nil).Learn(ctx, learning.Request{Topic: topic})
	if err != nil {
		return fmt.Errorf("learn: %w", err)
	}
	fmt.Fprintf(out, "Sources visited: %d\n", res.Sources)
	fmt.Fprintf(out, "Knowledge stored: %d (pending review)\n", res.Stored)
	fmt.Fprintf(out, "Blocked by filters: %d\n", res.Blocked)
	fmt.Fprintf(out, "Failed: %d\n", res.Failed)
	if res.Stopped {
		fmt.Fprintln(out, "Stopped early.")
	}
	return nil
}

func runMemories(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	turns, err := store.RecentTurns(context.Background(), strings.ToLower(strings.TrimSpace(topicFlag)), limitFlag)
	if err != nil {
		return fmt.Errorf("load memories: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(turns) == 0 {
		fmt.Fprintln(out, "No conversations remembered yet.")
		return nil
	}
	for _, t := range turns {
		fmt.Fprintf(out, "[%s] %s (importance %d, %s)\n", t.Timestamp.Local().Format("2006-01-02 15:04"), t.Topic, t.Importance, t.Sentiment)
		fmt.Fprintf(out, "  you: %s\n", t.UserMessage)
		fmt.Fprintf(out, "  may: %s\n", t.Reply)
	}
	return nil
}

func runProfile(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	out := cmd.OutOrStdout()
	p, err := store.LoadProfile(context.Background())
	if errors.Is(err, memory.ErrNoProfile) {
		fmt.Fprintln(out, "No profile yet (run 'may onboard --name <name>' or just start chatting)")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load profile: %w", err)
	}

	fmt.Fprintf(out, "Name: %s\n", p.Name)
	fmt.Fprintf(out, "Relationship level: %d/10\n", p.RelationshipLevel)
	fmt.Fprintf(out, "Last interaction: %s\n", p.LastInteraction.Local().Format("2006-01-02 15:04"))
	fmt.Fprintf(out, "Interests: %s\n", listOrNone(p.Interests))
	fmt.Fprintf(out, "Values: %s\n", listOrNone(p.Values))
	return nil
}

func runOnboard(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	cfgPath := config.ConfigPath()

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		if err := config.SaveConfig(config.DefaultConfig()); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Fprintf(out, "Created config: %s\n", cfgPath)
	} else {
		fmt.Fprintf(out, "Config already exists: %s\n", cfgPath)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.SeedTrustedSources(ctx); err != nil {
		return fmt.Errorf("seed trusted sources: %w", err)
	}
	if err := store.SeedContentFilters(ctx); err != nil {
		return fmt.Errorf("seed content filters: %w", err)
	}
	fmt.Fprintf(out, "Memory database ready: %s\n", cfg.Memory.DBPath)

	if name := strings.TrimSpace(nameFlag); name != "" {
		if _, err := store.LoadProfile(ctx); errors.Is(err, memory.ErrNoProfile) {
			if err := store.SaveProfile(ctx, memory.NewProfile(name, time.Now())); err != nil {
				return fmt.Errorf("create profile: %w", err)
			}
			fmt.Fprintf(out, "Created profile for %s\n", name)
		} else if err != nil {
			return fmt.Errorf("load profile: %w", err)
		} else {
			fmt.Fprintln(out, "Profile already exists")
		}
	}

	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintf(out, "  1. Edit %s to enable Telegram and set your bot token\n", cfgPath)
	fmt.Fprintln(out, "  2. Or set MAY_TELEGRAM_TOKEN (a .env file works too)")
	fmt.Fprintln(out, "  3. Run 'may chat -m \"Hello\"' to test")

	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(out, "Config: error (%v)\n", err)
		return nil
	}

	fmt.Fprintf(out, "Config: %s\n", config.ConfigPath())
	fmt.Fprintf(out, "Database: %s\n", cfg.Memory.DBPath)
	fmt.Fprintf(out, "Telegram: enabled=%v token=%s\n", cfg.Channels.Telegram.Enabled, maskToken(cfg.Channels.Telegram.Token))
	fmt.Fprintf(out, "WebUI: enabled=%v\n", cfg.Channels.WebUI.Enabled)
	fmt.Fprintf(out, "Dashboard: enabled=%v (%s:%d)\n", cfg.Dashboard.Enabled, cfg.Dashboard.Host, cfg.Dashboard.Port)
	fmt.Fprintf(out, "Learning: enabled=%v schedules=%d\n", cfg.Learning.Enabled, len(cfg.Learning.Schedules))

	if _, err := os.Stat(cfg.Memory.DBPath); err != nil {
		fmt.Fprintln(out, "Memory: not initialized (run 'may onboard')")
		return nil
	}
	store, err := openStore(cfg)
	if err != nil {
		fmt.Fprintf(out, "Memory: error (%v)\n", err)
		return nil
	}
	defer store.Close()

	st, err := store.Stats(context.Background())
	if err != nil {
		fmt.Fprintf(out, "Memory: error (%v)\n", err)
		return nil
	}
	fmt.Fprintf(out, "Memory: %d conversations, %d knowledge items (%d pending review), %d trusted sources\n",
		st.Turns, st.Knowledge, st.Pending, st.Sources)

	if p, err := store.LoadProfile(context.Background()); err == nil {
		fmt.Fprintf(out, "Profile: %s (relationship level %d)\n", p.Name, p.RelationshipLevel)
	} else {
		fmt.Fprintln(out, "Profile: none")
	}
	return nil
}

func maskToken(token string) string {
	switch {
	case token == "":
		return "not set"
	case len(token) > 8:
		return token[:4] + "..." + token[len(token)-4:]
	default:
		return "set"
	}
}

func listOrNone(items []string) string {
	if len(items) == 0 {
		return "(none yet)"
	}
	return strings.Join(items, ", ")
}
