package oracle

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"driftnote/internal/notes"
)

var errNoContent = errors.New("oracle reply has no content field")

var intensity = map[notes.ChangeRate]string{
	notes.RateLow:    "very subtly and minimally (1-2 small changes)",
	notes.RateMedium: "subtly (3-5 small changes)",
	notes.RateHigh:   "noticeably but not drastically (5-8 changes)",
}

// buildPrompt asks for a rewrite of content only; the title is never sent
// for modification.
func buildPrompt(content string, rate notes.ChangeRate) string {
	level, ok := intensity[rate]
	if !ok {
		rate = notes.DefaultRate
		level = intensity[rate]
	}
	var b strings.Builder
	fmt.Fprintf(&b, "You are rewriting a personal journal entry so that it becomes slightly unreliable over time. The owner chose the %q change rate.\n\n", string(rate))
	b.WriteString("Rules:\n")
	fmt.Fprintf(&b, "1. Modify ONLY the content text, %s.\n", level)
	b.WriteString("2. Keep the overall meaning and context.\n")
	b.WriteString("3. Changes should read like plausible memory errors: small details (colors, times, numbers), similar words swapped, slightly different emotions, minor details added or dropped.\n")
	b.WriteString("4. Do not change the story beyond recognition.\n")
	b.WriteString("5. Preserve the structure and formatting.\n")
	b.WriteString("6. Reply with JSON only, a single object with a \"content\" field holding the modified text.\n\n")
	b.WriteString("Original content:\n")
	b.WriteString(content)
	b.WriteString("\n")
	return b.String()
}

var jsonObject = regexp.MustCompile(`(?s)\{.*\}`)

// parseReply extracts the outermost {...} block of the model reply and
// returns its "content" field.
func parseReply(text string) (string, error) {
	raw := jsonObject.FindString(text)
	if raw == "" {
		return "", fmt.Errorf("oracle reply has no JSON object")
	}
	var out struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return "", fmt.Errorf("oracle reply: %w", err)
	}
	if out.Content == "" {
		return "", errNoContent
	}
	return out.Content, nil
}
