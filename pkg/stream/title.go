package stream

import (
	"context"
	"log/slog"
	"strings"

	"github.com/atelier-ai/atelier/pkg/llm"
)

const (
	titlePromptChars = 100
	titleMaxChars    = 20
)

// TitleStore persists a thread title only while it is still unset.
type TitleStore interface {
	SetTitleIfEmpty(ctx context.Context, threadID, title string) (bool, error)
}

// NewTitleTask builds the best-effort title generator for a thread whose
// title is still null. The flash model names the thread from the start of the
// user's first message; all failures are swallowed.
func NewTitleTask(llmClient llm.Client, store TitleStore, threadID, userMessage string) TitleTask {
	return func(ctx context.Context) (string, bool) {
		snippet := userMessage
		if runes := []rune(snippet); len(runes) > titlePromptChars {
			snippet = string(runes[:titlePromptChars])
		}

		prompt := "Write a very short title (a few words, no quotes) for a coding session that starts with this request:\n\n" + snippet
		title, err := llmClient.Complete(ctx, llm.ModelFlash, prompt)
		if err != nil {
			slog.Debug("Title generation failed", "thread_id", threadID, "error", err)
			return "", false
		}

		title = truncateTitle(strings.TrimSpace(title))
		if title == "" {
			return "", false
		}

		wrote, err := store.SetTitleIfEmpty(ctx, threadID, title)
		if err != nil {
			slog.Debug("Title persist failed", "thread_id", threadID, "error", err)
			return "", false
		}
		if !wrote {
			// Someone set a title first; nothing to announce.
			return "", false
		}
		return title, true
	}
}

func truncateTitle(title string) string {
	runes := []rune(title)
	if len(runes) > titleMaxChars {
		return string(runes[:titleMaxChars])
	}
	return title
}
