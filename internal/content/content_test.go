package content

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetect(t *testing.T) {
	keywords := []string{"ChatGPT", "notepad", ".pdf", "Slack", "Zoom"}

	tests := []struct {
		name    string
		text    string
		want    string
		matched bool
	}{
		{"single match", "Open Slack now", "Slack", true},
		{"no match", "Terminal - bash", "", false},
		{"empty text", "", "", false},
		{"case sensitive", "open slack now", "", false},
		{"substring inside word", "MySlackBot", "Slack", true},
		{"first in configuration order", "Zoom meeting notes in notepad", "notepad", true},
		{"file extension", "exam_answers.pdf - Preview", ".pdf", true},
		{"whitespace only", "   \n\t", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Detect(tt.text, keywords)
			assert.Equal(t, tt.matched, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDetectNoKeywords(t *testing.T) {
	_, ok := Detect("anything", nil)
	assert.False(t, ok)
}

func TestDetectIgnoresEmptyKeyword(t *testing.T) {
	_, ok := Detect("anything", []string{""})
	assert.False(t, ok)
}

// The result is a keyword from the set iff some keyword is a substring.
func TestDetectMatchesContainment(t *testing.T) {
	keywords := []string{"ab", "cd", "xyz"}
	texts := []string{"", "a", "ab", "zab", "c d", "cdab", "xy", "wxyz", "AB"}

	for _, text := range texts {
		got, ok := Detect(text, keywords)

		contained := false
		for _, k := range keywords {
			if strings.Contains(text, k) {
				contained = true
			}
		}
		assert.Equal(t, contained, ok, "text %q", text)
		if ok {
			assert.Contains(t, keywords, got)
			assert.Contains(t, text, got)
		}
	}
}

func TestMatcherCopiesKeywords(t *testing.T) {
	keywords := []string{"Slack"}
	m := NewMatcher(keywords)
	keywords[0] = "Zoom"

	k, ok := m.Match("Open Slack now")
	assert.True(t, ok)
	assert.Equal(t, "Slack", k)

	m.Keywords()[0] = "changed"
	assert.Equal(t, []string{"Slack"}, m.Keywords())
}

func TestMatchAll(t *testing.T) {
	m := NewMatcher([]string{"ChatGPT", "Slack", "Zoom"})
	assert.Equal(t, []string{"Slack", "Zoom"}, m.MatchAll("Zoom call shared in Slack"))
	assert.Empty(t, m.MatchAll("nothing here"))
}
