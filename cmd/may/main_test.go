package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stellarlinkco/may/internal/config"
	"github.com/stellarlinkco/may/internal/memory"
	"github.com/stellarlinkco/may/internal/persona"
)

type constSource float64

func (c constSource) Float64() float64 { return float64(c) }

// setupHome points the config dir at a temp HOME and resets flags.
func setupHome(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Setenv("USERPROFILE", tmpDir)
	t.Setenv("MAY_DB_PATH", "")
	t.Setenv("MAY_PROFILE_NAME", "")
	t.Setenv("MAY_TELEGRAM_TOKEN", "")

	messageFlag, topicFlag, nameFlag, limitFlag = "", "", "", 10
	t.Cleanup(func() { messageFlag, topicFlag, nameFlag, limitFlag = "", "", "", 10 })

	orig := newRandom
	newRandom = func() persona.Source { return constSource(0.9) }
	t.Cleanup(func() { newRandom = orig })
	return tmpDir
}

func newTestCmd(stdin string) (*cobra.Command, *bytes.Buffer) {
	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)
	cmd.SetIn(strings.NewReader(stdin))
	return cmd, &out
}

func dbPath(home string) string {
	return filepath.Join(home, ".may", "data", "may_memory.db")
}

func TestInit(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"chat", "gateway", "learn", "memories", "profile", "onboard", "status"} {
		if !names[want] {
			t.Errorf("missing %s command", want)
		}
	}
	if chatCmd.Flags().Lookup("message") == nil {
		t.Error("message flag should exist")
	}
	if memoriesCmd.Flags().Lookup("topic") == nil || memoriesCmd.Flags().Lookup("limit") == nil {
		t.Error("memories flags should exist")
	}
	if onboardCmd.Flags().Lookup("name") == nil {
		t.Error("name flag should exist")
	}
}

func TestRunOnboard(t *testing.T) {
	home := setupHome(t)
	nameFlag = "Ana"
	cmd, out := newTestCmd("")

	if err := runOnboard(cmd, nil); err != nil {
		t.Fatalf("runOnboard error: %v", err)
	}

	if _, err := os.Stat(filepath.Join(home, ".may", "config.json")); err != nil {
		t.Errorf("config file was not created: %v", err)
	}
	if !strings.Contains(out.String(), "Created config") {
		t.Errorf("unexpected output: %s", out.String())
	}
	if !strings.Contains(out.String(), "Created profile for Ana") {
		t.Errorf("profile not reported: %s", out.String())
	}

	store, err := memory.NewStore(dbPath(home))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	p, err := store.LoadProfile(context.Background())
	if err != nil || p.Name != "Ana" {
		t.Fatalf("profile = %+v, %v", p, err)
	}
	st, err := store.Stats(context.Background())
	if err != nil || st.Sources == 0 {
		t.Fatalf("stats = %+v, %v", st, err)
	}
}

func TestRunOnboard_AlreadyExists(t *testing.T) {
	home := setupHome(t)
	cfgDir := filepath.Join(home, ".may")
	if err := os.MkdirAll(cfgDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(cfgDir, "config.json"), []byte("{}"), 0644); err != nil {
		t.Fatal(err)
	}

	cmd, out := newTestCmd("")
	if err := runOnboard(cmd, nil); err != nil {
		t.Fatalf("runOnboard error: %v", err)
	}
	if !strings.Contains(out.String(), "Config already exists") {
		t.Errorf("expected 'Config already exists', got: %s", out.String())
	}

	nameFlag = "Ana"
	cmd, _ = newTestCmd("")
	if err := runOnboard(cmd, nil); err != nil {
		t.Fatal(err)
	}
	nameFlag = "Ben"
	cmd, out = newTestCmd("")
	if err := runOnboard(cmd, nil); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "Profile already exists") {
		t.Errorf("second onboard should keep the profile: %s", out.String())
	}
}

func TestRunChat_SingleMessage(t *testing.T) {
	home := setupHome(t)
	messageFlag = "I love spending time with my family"
	cmd, out := newTestCmd("")

	if err := runChat(cmd, nil); err != nil {
		t.Fatalf("runChat error: %v", err)
	}
	if strings.TrimSpace(out.String()) == "" {
		t.Fatal("expected a reply")
	}

	store, err := memory.NewStore(dbPath(home))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	turns, err := store.RecentTurns(context.Background(), "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != 1 || turns[0].UserMessage != messageFlag {
		t.Fatalf("turns = %+v", turns)
	}
}

func TestRunChat_REPL(t *testing.T) {
	home := setupHome(t)
	cmd, out := newTestCmd("hello there\n\nI am learning to code\nexit\nnot reached\n")

	if err := runChat(cmd, nil); err != nil {
		t.Fatalf("runChat error: %v", err)
	}
	if !strings.Contains(out.String(), "type 'exit' to quit") {
		t.Errorf("missing banner: %s", out.String())
	}

	store, err := memory.NewStore(dbPath(home))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	turns, err := store.RecentTurns(context.Background(), "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != 2 {
		t.Fatalf("turns = %d, want 2", len(turns))
	}
}

func TestRunChat_CreatesConfiguredProfile(t *testing.T) {
	home := setupHome(t)
	t.Setenv("MAY_PROFILE_NAME", "Sam")
	messageFlag = "hi"
	cmd, _ := newTestCmd("")

	if err := runChat(cmd, nil); err != nil {
		t.Fatalf("runChat error: %v", err)
	}

	store, err := memory.NewStore(dbPath(home))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	p, err := store.LoadProfile(context.Background())
	if err != nil || p.Name != "Sam" {
		t.Fatalf("profile = %+v, %v", p, err)
	}
}

func TestRunMemories(t *testing.T) {
	home := setupHome(t)

	cmd, out := newTestCmd("")
	if err := runMemories(cmd, nil); err != nil {
		t.Fatalf("runMemories error: %v", err)
	}
	if !strings.Contains(out.String(), "No conversations remembered yet.") {
		t.Errorf("output = %s", out.String())
	}

	store, err := memory.NewStore(dbPath(home))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	now := time.Now()
	for i, tc := range []struct{ msg, topic string }{
		{"my job is stressful", "work"},
		{"we went to church", "faith"},
	} {
		if err := store.InsertTurn(ctx, memory.Turn{
			ID: memory.NewTurnID(tc.msg, "ok", now), UserMessage: tc.msg, Reply: "ok",
			Topic: tc.topic, Sentiment: "neutral", Importance: 5,
			Timestamp: now.Add(time.Duration(i) * time.Second),
		}); err != nil {
			t.Fatal(err)
		}
	}
	store.Close()

	topicFlag = "Work"
	cmd, out = newTestCmd("")
	if err := runMemories(cmd, nil); err != nil {
		t.Fatalf("runMemories error: %v", err)
	}
	if !strings.Contains(out.String(), "my job is stressful") || strings.Contains(out.String(), "church") {
		t.Errorf("topic filter not applied: %s", out.String())
	}
}

func TestRunProfile(t *testing.T) {
	home := setupHome(t)

	cmd, out := newTestCmd("")
	if err := runProfile(cmd, nil); err != nil {
		t.Fatalf("runProfile error: %v", err)
	}
	if !strings.Contains(out.String(), "No profile yet") {
		t.Errorf("output = %s", out.String())
	}

	store, err := memory.NewStore(dbPath(home))
	if err != nil {
		t.Fatal(err)
	}
	p := memory.NewProfile("Ana", time.Now())
	p.Interests = []string{"music"}
	if err := store.SaveProfile(context.Background(), p); err != nil {
		t.Fatal(err)
	}
	store.Close()

	cmd, out = newTestCmd("")
	if err := runProfile(cmd, nil); err != nil {
		t.Fatalf("runProfile error: %v", err)
	}
	for _, want := range []string{"Name: Ana", "Relationship level: 1/10", "Interests: music", "Values: (none yet)"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q: %s", want, out.String())
		}
	}
}

func TestRunStatus(t *testing.T) {
	setupHome(t)
	t.Setenv("MAY_TELEGRAM_TOKEN", "123456:ABCDEFGH")

	cmd, out := newTestCmd("")
	if err := runStatus(cmd, nil); err != nil {
		t.Fatalf("runStatus error: %v", err)
	}
	for _, want := range []string{"Config:", "token=1234...EFGH", "Memory: not initialized"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q: %s", want, out.String())
		}
	}

	onboard, _ := newTestCmd("")
	if err := runOnboard(onboard, nil); err != nil {
		t.Fatal(err)
	}
	cmd, out = newTestCmd("")
	if err := runStatus(cmd, nil); err != nil {
		t.Fatalf("runStatus error: %v", err)
	}
	if !strings.Contains(out.String(), "trusted sources") || !strings.Contains(out.String(), "Profile: none") {
		t.Errorf("output = %s", out.String())
	}
}

func TestRunLearn_EmptyTopic(t *testing.T) {
	setupHome(t)
	cmd, _ := newTestCmd("")
	if err := runLearn(cmd, []string{"  "}); err == nil {
		t.Fatal("expected error for empty topic")
	}
}

func TestMaskToken(t *testing.T) {
	tests := map[string]string{
		"":                 "not set",
		"short":            "set",
		"123456789:abcdef": "1234...cdef",
	}
	for in, want := range tests {
		if got := maskToken(in); got != want {
			t.Errorf("maskToken(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestConfigPathUsesHome(t *testing.T) {
	home := setupHome(t)
	if got := config.ConfigPath(); got != filepath.Join(home, ".may", "config.json") {
		t.Errorf("ConfigPath = %q", got)
	}
}
