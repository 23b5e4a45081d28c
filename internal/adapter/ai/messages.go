package ai

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fairyhunter13/ai-chat-generator/internal/domain"
)

// rawMessage mirrors the loose JSON shape models actually emit.
type rawMessage struct {
	Speaker string `json:"speaker"`
	Name    string `json:"name"`
	Text    string `json:"text"`
	Type    string `json:"type"`
}

// ParseMessages extracts the chat messages from a provider's raw text. Models
// frequently wrap the array in prose, markdown fences, or an object with a
// "messages" field; all of those are tolerated. Rows with empty text are
// skipped. An error is returned only when nothing parseable remains, which
// the caller treats the same as a provider failure.
func ParseMessages(text string) ([]domain.ChatMessage, error) {
	payload := extractJSONArray(text)
	if payload == "" {
		return nil, fmt.Errorf("%w: no JSON array in provider response", domain.ErrProvidersExhausted)
	}

	var raws []rawMessage
	if err := json.Unmarshal([]byte(payload), &raws); err != nil {
		// Some models return {"messages": [...]} even when asked for a bare array.
		var wrapped struct {
			Messages []rawMessage `json:"messages"`
		}
		if err2 := json.Unmarshal([]byte(payload), &wrapped); err2 != nil || len(wrapped.Messages) == 0 {
			return nil, fmt.Errorf("%w: parse provider response: %v", domain.ErrProvidersExhausted, err)
		}
		raws = wrapped.Messages
	}

	now := time.Now().UTC()
	messages := make([]domain.ChatMessage, 0, len(raws))
	for _, raw := range raws {
		text := strings.TrimSpace(raw.Text)
		if text == "" {
			continue
		}
		speaker := domain.SpeakerOther
		if strings.ToLower(raw.Speaker) == string(domain.SpeakerMe) {
			speaker = domain.SpeakerMe
		}
		msgType := domain.MessageText
		if strings.ToLower(raw.Type) == string(domain.MessageEmoji) {
			msgType = domain.MessageEmoji
		}
		messages = append(messages, domain.ChatMessage{
			ID:          uuid.NewString(),
			Speaker:     speaker,
			SpeakerName: raw.Name,
			Text:        text,
			Type:        msgType,
			Timestamp:   now,
		})
	}
	if len(messages) == 0 {
		return nil, fmt.Errorf("%w: no valid messages in provider response", domain.ErrProvidersExhausted)
	}
	return messages, nil
}

// extractJSONArray strips markdown fences and returns the outermost JSON
// array, or the object containing one, from mixed content.
func extractJSONArray(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	start := strings.Index(s, "[")
	end := strings.LastIndex(s, "]")
	if start != -1 && end > start {
		// Prefer an object wrapper when the array sits inside one, so the
		// "messages" field fallback still sees the full object.
		oStart := strings.Index(s, "{")
		oEnd := strings.LastIndex(s, "}")
		if oStart != -1 && oStart < start && oEnd > end {
			return s[oStart : oEnd+1]
		}
		return s[start : end+1]
	}
	if oStart, oEnd := strings.Index(s, "{"), strings.LastIndex(s, "}"); oStart != -1 && oEnd > oStart {
		return s[oStart : oEnd+1]
	}
	return ""
}
