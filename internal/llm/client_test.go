package llm

import (
	"os"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/hivecrew/hivecrew/internal/chat"
)

func TestNewWithAPIKey(t *testing.T) {
	client, err := New(Config{
		APIKey: "test-key-123",
		Model:  string(anthropic.ModelClaudeSonnet4_5_20250929),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if client.Model() != anthropic.ModelClaudeSonnet4_5_20250929 {
		t.Errorf("Model = %q, want %q", client.Model(), anthropic.ModelClaudeSonnet4_5_20250929)
	}
	if client.Usage() == nil {
		t.Error("Usage should not be nil")
	}
}

func TestNewWithEnvVar(t *testing.T) {
	original := os.Getenv("ANTHROPIC_API_KEY")
	defer os.Setenv("ANTHROPIC_API_KEY", original)

	os.Setenv("ANTHROPIC_API_KEY", "env-test-key")

	if _, err := New(Config{}); err != nil {
		t.Fatalf("New failed: %v", err)
	}
}

func TestNewNoAPIKey(t *testing.T) {
	original := os.Getenv("ANTHROPIC_API_KEY")
	defer os.Setenv("ANTHROPIC_API_KEY", original)

	os.Unsetenv("ANTHROPIC_API_KEY")

	_, err := New(Config{})
	if err == nil {
		t.Fatal("New should fail without API key")
	}

	expected := "ANTHROPIC_API_KEY environment variable is not set"
	if err.Error() != expected {
		t.Errorf("Error = %q, want %q", err.Error(), expected)
	}
}

func TestNewDefaultModel(t *testing.T) {
	client, err := New(Config{APIKey: "test-key"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if client.Model() != anthropic.ModelClaudeSonnet4_5_20250929 {
		t.Errorf("Default model = %q, want %q", client.Model(), anthropic.ModelClaudeSonnet4_5_20250929)
	}
}

func TestNewBedrockTranslatesModel(t *testing.T) {
	client, err := New(Config{
		Model:      string(anthropic.ModelClaudeSonnet4_5_20250929),
		UseBedrock: true,
		AWSRegion:  "us-west-2",
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	want := anthropic.Model("us.anthropic.claude-sonnet-4-5-20250929-v1:0")
	if client.Model() != want {
		t.Errorf("Model = %q, want %q", client.Model(), want)
	}
}

func TestTranslateModelForBedrockPassthrough(t *testing.T) {
	custom := anthropic.Model("us.anthropic.claude-custom-v1:0")
	if got := translateModelForBedrock(custom); got != custom {
		t.Errorf("translateModelForBedrock(%q) = %q, want unchanged", custom, got)
	}
}

func TestParamsFoldsSystemTurns(t *testing.T) {
	client, err := New(Config{APIKey: "test-key", SystemPrompt: "You are a researcher."})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	params := client.params([]chat.Message{
		{Role: chat.RoleSystem, Content: "Be terse."},
		{Role: chat.RoleUser, Content: "hello"},
		{Role: chat.RoleAssistant, Content: "hi"},
		{Role: chat.RoleUser, Content: "continue"},
	})

	if len(params.System) != 1 {
		t.Fatalf("System blocks = %d, want 1", len(params.System))
	}
	want := "You are a researcher.\n\nBe terse."
	if params.System[0].Text != want {
		t.Errorf("System = %q, want %q", params.System[0].Text, want)
	}

	if len(params.Messages) != 3 {
		t.Fatalf("Messages = %d, want 3 (system turns excluded)", len(params.Messages))
	}
	if params.Messages[1].Role != anthropic.MessageParamRoleAssistant {
		t.Errorf("Messages[1].Role = %q, want assistant", params.Messages[1].Role)
	}
	if params.MaxTokens != defaultMaxTokens {
		t.Errorf("MaxTokens = %d, want %d", params.MaxTokens, defaultMaxTokens)
	}
}

func TestTokenTracker(t *testing.T) {
	tracker := NewTokenTracker()

	tracker.Add(100, 50)
	tracker.Add(200, 25)

	input, output := tracker.Total()
	if input != 300 {
		t.Errorf("Input tokens = %d, want 300", input)
	}
	if output != 75 {
		t.Errorf("Output tokens = %d, want 75", output)
	}
	if tracker.Calls() != 2 {
		t.Errorf("Calls = %d, want 2", tracker.Calls())
	}

	tracker.Reset()
	input, output = tracker.Total()
	if input != 0 || output != 0 || tracker.Calls() != 0 {
		t.Errorf("after Reset: input=%d output=%d calls=%d, want zeros", input, output, tracker.Calls())
	}
}

func TestTokenTrackerCost(t *testing.T) {
	tracker := NewTokenTracker()
	tracker.Add(1_000_000, 1_000_000)

	if got := tracker.Cost(); got != 18.0 {
		t.Errorf("Cost = %v, want 18.0", got)
	}
}
