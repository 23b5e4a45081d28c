package usecase

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildPrompt_KnownStyleAndLanguage(t *testing.T) {
	p := buildPrompt("a rainy first date", 10, "casual", "ko")
	assert.Contains(t, p, "친근하고 편안한 일상 대화")
	assert.Contains(t, p, "Language: 한국어")
	assert.Contains(t, p, "Generate exactly 10 messages")
	assert.Contains(t, p, "Generate a conversation about: a rainy first date")
	assert.Contains(t, p, `speaker must be "me" or "other"`)
}

func TestBuildPrompt_UnknownValuesPassThrough(t *testing.T) {
	p := buildPrompt("topic", 4, "noir", "fr")
	assert.Contains(t, p, "realistic noir between two people")
	assert.Contains(t, p, "Language: fr")
}

func TestBuildPrompt_StyleVariants(t *testing.T) {
	for style, want := range map[string]string{
		"formal":   "정중하고 격식 있는 대화",
		"romantic": "로맨틱하고 애정 어린 대화",
		"funny":    "유머러스하고 재미있는 대화",
		"dramatic": "극적이고 감정적인 대화",
	} {
		assert.Contains(t, buildPrompt("t", 2, style, "ko"), want, "style %s", style)
	}
}
