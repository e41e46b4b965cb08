package synthesis

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"

	"github.com/Chative-core-poc-v1/cafebot/internal/agent/model"
)

func TestFormatContext(t *testing.T) {
	got := FormatContext([]model.SearchResult{
		{Namespace: model.NamespaceFAQ, RelevanceScore: 0.812, Content: "Q: Open? | A: 7am"},
		{Namespace: model.NamespaceMenu, RelevanceScore: 0.5, Content: "English: Tea"},
	})
	assert.Equal(t, "Result 1 (Namespace: faq, Score: 0.81):\nQ: Open? | A: 7am\n\nResult 2 (Namespace: menu, Score: 0.50):\nEnglish: Tea", got)
}

func TestClean(t *testing.T) {
	assert.Equal(t, "We open at 7am.", Clean("```text\nWe open at 7am.\n```"))
	assert.Equal(t, "a\n\nb", Clean("a\n\n\n\n  \nb"))
	assert.Equal(t, "plain", Clean("  plain  "))
}

func TestPolishRemovesForbiddenWords(t *testing.T) {
	got := Polish("သင် ဒီမှာ   ထိုင်နိုင်ပါတယ်", []string{"သင်"}, 300)
	assert.Equal(t, "ဒီမှာ ထိုင်နိုင်ပါတယ်", got)
}

func TestPolishCutsAtSentenceMark(t *testing.T) {
	sentence := "ကော်ဖီ ရပါတယ်။"
	long := strings.Repeat(sentence, 10)
	limit := utf8.RuneCountInString(sentence)*2 + 3

	got := Polish(long, nil, limit)
	assert.Equal(t, sentence+sentence, got)

	noMarks := strings.Repeat("က", 20)
	assert.Equal(t, strings.Repeat("က", 5), Polish(noMarks, nil, 5))
	assert.Equal(t, sentence, Polish(sentence, nil, 300))
}

func TestAppendNote(t *testing.T) {
	assert.Equal(t, "body\n\nnote", AppendNote("body", "note"))
	assert.Equal(t, "body\n\nnote", AppendNote("body\n\nnote", "note"))
	assert.Equal(t, "note", AppendNote("", "note"))
}
