package interp

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"time"

	"github.com/tiktoken-go/tokenizer"

	"salon/pkg/proto"
	"salon/pkg/state"
)

// score01 derives a deterministic pseudo-random draw in [0,1) from a message
// id and agent id, so responder selection is reproducible in tests.
func score01(messageID proto.MessageID, agentID proto.AgentID) float64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(messageID))
	_, _ = h.Write([]byte{':'})
	_, _ = h.Write([]byte(agentID))
	return float64(h.Sum64()%1_000_000) / 1_000_000
}

// selectResponders picks which members answer a user message.
//
// Mentioned agents win outright. Otherwise members whose response tendency
// exceeds the threshold qualify; when more qualify than the fan-out cap, the
// deterministic per-message score ranks them, tie-broken by stable name
// order. If nobody qualifies, the single highest-tendency member answers.
func selectResponders(p Params, s *state.RoomState, sender proto.SenderID, msgID proto.MessageID,
	mentioned []proto.AgentID, tendency func(proto.AgentID) float64) []proto.AgentID {

	members := s.MemberIDs()
	if len(members) == 0 {
		return nil
	}

	if len(mentioned) > 0 {
		out := make([]proto.AgentID, 0, len(mentioned))
		for _, id := range mentioned {
			if _, ok := s.Members[id]; ok {
				out = append(out, id)
			}
		}
		return out
	}

	candidates := make([]proto.AgentID, 0, len(members))
	for _, id := range members {
		if sender.Kind == proto.SenderAgent && sender.Agent == id {
			continue
		}
		if tendency(id) > p.ResponderThreshold {
			candidates = append(candidates, id)
		}
	}

	if len(candidates) == 0 {
		// Fall back to the single most talkative member.
		var best proto.AgentID
		bestTendency := -1.0
		for _, id := range members {
			if sender.Kind == proto.SenderAgent && sender.Agent == id {
				continue
			}
			if t := tendency(id); t > bestTendency {
				best, bestTendency = id, t
			}
		}
		if best == "" {
			return nil
		}
		return []proto.AgentID{best}
	}

	cap := p.ResponderFanOut
	if cap <= 0 {
		cap = 3
	}
	if len(candidates) > cap {
		// members is already in stable name order, which breaks score ties.
		sort.SliceStable(candidates, func(i, j int) bool {
			si := score01(msgID, candidates[i]) * tendency(candidates[i])
			sj := score01(msgID, candidates[j]) * tendency(candidates[j])
			return si > sj
		})
		candidates = candidates[:cap]
		// Restore stable name order for the trimmed set.
		nameOf := func(id proto.AgentID) string { return s.Members[id] }
		sort.Slice(candidates, func(i, j int) bool {
			if nameOf(candidates[i]) != nameOf(candidates[j]) {
				return nameOf(candidates[i]) < nameOf(candidates[j])
			}
			return candidates[i] < candidates[j]
		})
	}
	return candidates
}

// countTokens approximates transcript length with the GPT-4 encoding, the
// same approximation the upstream models tolerate. Falls back to a 4-chars-
// per-token estimate if the codec is unavailable.
func countTokens(text string) int {
	codec, err := tokenizer.ForModel(tokenizer.GPT4)
	if err != nil {
		return len(text) / 4
	}
	n, err := codec.Count(text)
	if err != nil {
		return len(text) / 4
	}
	return n
}

// formatLine renders one chat message as an IRC-style transcript line.
// System events are marked with ***.
func formatLine(m *proto.ChatMessage) string {
	ts := time.UnixMilli(m.Timestamp).UTC().Format("15:04")
	switch m.Type {
	case proto.MessageJoin, proto.MessageLeave, proto.MessageSystem:
		return fmt.Sprintf("[%s] *** %s", ts, m.Content)
	case proto.MessageAction:
		return fmt.Sprintf("[%s] * %s %s", ts, m.SenderName, m.Content)
	default:
		return fmt.Sprintf("[%s] <%s> %s", ts, m.SenderName, m.Content)
	}
}

// BuildTranscript renders the context window as an IRC-style transcript,
// newest last, trimmed from the front to fit the token budget.
func BuildTranscript(topic string, window []proto.ChatMessage, maxTokens int) string {
	lines := make([]string, 0, len(window)+1)
	for i := range window {
		lines = append(lines, formatLine(&window[i]))
	}

	render := func(from int) string {
		var b strings.Builder
		if topic != "" {
			b.WriteString("Topic: ")
			b.WriteString(topic)
			b.WriteString("\n\n")
		}
		b.WriteString(strings.Join(lines[from:], "\n"))
		return b.String()
	}

	if maxTokens <= 0 {
		return render(0)
	}

	from := 0
	text := render(from)
	for from < len(lines)-1 && countTokens(text) > maxTokens {
		from++
		text = render(from)
	}
	return text
}

// systemPromptFor composes an agent's system prompt from its persona.
func systemPromptFor(cfg *proto.AgentConfig) string {
	var b strings.Builder
	b.WriteString(cfg.SystemPrompt)
	if cfg.Description != "" {
		b.WriteString("\n\n")
		b.WriteString(cfg.Description)
	}
	if cfg.SpeakingStyle != "" {
		b.WriteString("\nSpeaking style: ")
		b.WriteString(cfg.SpeakingStyle)
	}
	if len(cfg.Interests) > 0 {
		b.WriteString("\nInterests: ")
		b.WriteString(strings.Join(cfg.Interests, ", "))
	}
	if len(cfg.Personality) > 0 {
		names := make([]string, 0, len(cfg.Personality))
		for name := range cfg.Personality {
			names = append(names, name)
		}
		sort.Strings(names)
		b.WriteString("\nPersonality: ")
		for i, name := range names {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s=%.1f", name, cfg.Personality[name])
		}
	}
	return b.String()
}
