package interp

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"salon/pkg/proto"
)

// TestFormatLine_Styles verifies the transcript line styles per message type.
func TestFormatLine_Styles(t *testing.T) {
	chat := proto.ChatMessage{SenderName: "Alice", Content: "hello", Type: proto.MessageChat, Timestamp: 0}
	assert.Equal(t, "[00:00] <Alice> hello", formatLine(&chat))

	join := proto.ChatMessage{Content: "Alice has joined the room", Type: proto.MessageJoin, Timestamp: 0}
	assert.Equal(t, "[00:00] *** Alice has joined the room", formatLine(&join))

	action := proto.ChatMessage{SenderName: "Alice", Content: "waves", Type: proto.MessageAction, Timestamp: 0}
	assert.Equal(t, "[00:00] * Alice waves", formatLine(&action))
}

// TestBuildTranscript_TopicAndOrder verifies the topic header and newest-last
// ordering.
func TestBuildTranscript_TopicAndOrder(t *testing.T) {
	window := []proto.ChatMessage{
		{SenderName: "Alice", Content: "first", Type: proto.MessageChat},
		{SenderName: "Bob", Content: "second", Type: proto.MessageChat},
	}
	got := BuildTranscript("go talk", window, 0)

	assert.True(t, strings.HasPrefix(got, "Topic: go talk\n\n"))
	assert.Less(t, strings.Index(got, "first"), strings.Index(got, "second"))
}

// TestBuildTranscript_TrimsOldestFirst verifies the token budget drops lines
// from the front, never the newest.
func TestBuildTranscript_TrimsOldestFirst(t *testing.T) {
	window := make([]proto.ChatMessage, 50)
	for i := range window {
		window[i] = proto.ChatMessage{
			SenderName: "Alice",
			Content:    strings.Repeat("chatter ", 20),
			Type:       proto.MessageChat,
		}
	}
	window[len(window)-1].Content = "the newest line"

	got := BuildTranscript("", window, 100)

	assert.Contains(t, got, "the newest line")
	assert.Less(t, countTokens(got), 150)
}

// TestScore01_DeterministicAndBounded verifies the selection draw is stable
// per (message, agent) pair and stays in [0,1).
func TestScore01_DeterministicAndBounded(t *testing.T) {
	a := score01("m1", "alice")
	b := score01("m1", "alice")
	require.Equal(t, a, b)
	assert.GreaterOrEqual(t, a, 0.0)
	assert.Less(t, a, 1.0)

	assert.NotEqual(t, score01("m1", "alice"), score01("m2", "alice"))
}

// TestSystemPromptFor_StableTraitOrder verifies personality traits render in
// sorted order so prompts are reproducible.
func TestSystemPromptFor_StableTraitOrder(t *testing.T) {
	cfg := proto.AgentConfig{
		SystemPrompt: "You are Alice.",
		Personality:  map[string]float64{"wit": 0.8, "calm": 0.4},
	}
	got := systemPromptFor(&cfg)
	assert.Contains(t, got, "calm=0.4, wit=0.8")
}
