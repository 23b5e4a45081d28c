package usecase

import (
	"fmt"
	"strings"
)

var languageNames = map[string]string{
	"ko": "한국어",
	"en": "English",
	"ja": "日本語",
}

var styleDescriptions = map[string]string{
	"casual":   "친근하고 편안한 일상 대화",
	"formal":   "정중하고 격식 있는 대화",
	"romantic": "로맨틱하고 애정 어린 대화",
	"funny":    "유머러스하고 재미있는 대화",
	"dramatic": "극적이고 감정적인 대화",
}

// buildPrompt composes the instruction text sent to a provider adapter.
// Unknown styles and languages pass through verbatim so callers are never
// rejected for an unanticipated value.
func buildPrompt(topic string, messageCount int, style, language string) string {
	styleDesc := styleDescriptions[style]
	if styleDesc == "" {
		styleDesc = style
	}
	langName := languageNames[language]
	if langName == "" {
		langName = language
	}

	var b strings.Builder
	b.WriteString("You are a conversation generator for a viral chat screenshot maker.\n")
	fmt.Fprintf(&b, "Generate a realistic %s between two people.\n\n", styleDesc)
	b.WriteString("Rules:\n")
	b.WriteString("1. Output ONLY valid JSON array, no other text\n")
	fmt.Fprintf(&b, "2. Generate exactly %d messages\n", messageCount)
	fmt.Fprintf(&b, "3. Language: %s\n", langName)
	b.WriteString("4. Alternate speakers naturally (not strictly alternating)\n")
	b.WriteString("5. Include realistic elements like:\n")
	b.WriteString("   - Short reactions (ㅋㅋ, ㅎㅎ, ㅠㅠ for Korean)\n")
	b.WriteString("   - Emojis where appropriate\n")
	b.WriteString("   - Natural conversation flow\n\n")
	b.WriteString("JSON format (strictly follow this):\n")
	b.WriteString("[\n")
	b.WriteString(`  {"speaker": "me", "text": "message text", "type": "text"},` + "\n")
	b.WriteString(`  {"speaker": "other", "text": "response", "type": "text"}` + "\n")
	b.WriteString("]\n\n")
	b.WriteString(`speaker must be "me" or "other"` + "\n")
	b.WriteString(`type must be "text" or "emoji"` + "\n\n")
	fmt.Fprintf(&b, "Generate a conversation about: %s\n", topic)
	return b.String()
}
