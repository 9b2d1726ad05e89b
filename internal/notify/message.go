package notify

import (
	"strings"
	"unicode/utf8"
)

// Kind classifies a toast.
type Kind string

const (
	KindDiscussion Kind = "discussion"
	KindComment    Kind = "comment"
	KindInfo       Kind = "info"
)

// PreviewLength is the maximum number of runes in a toast body.
const PreviewLength = 80

// Toast is a transient user-facing notification.
type Toast struct {
	Kind  Kind
	Title string
	Body  string
}

// FormatDiscussionToast creates the toast for a newly started discussion.
func FormatDiscussionToast(actor, topic, body string) Toast {
	text := topic
	if strings.TrimSpace(text) == "" {
		text = body
	}
	return Toast{
		Kind:  KindDiscussion,
		Title: actorOrSomeone(actor) + " started a discussion",
		Body:  Preview(text, PreviewLength),
	}
}

// FormatCommentToast creates the toast for a new comment or reply.
func FormatCommentToast(actor, body string, reply bool) Toast {
	verb := " commented"
	if reply {
		verb = " replied"
	}
	return Toast{
		Kind:  KindComment,
		Title: actorOrSomeone(actor) + verb,
		Body:  Preview(body, PreviewLength),
	}
}

// SyncingToast is shown once when the client resynchronizes after missing events.
func SyncingToast() Toast {
	return Toast{
		Kind:  KindInfo,
		Title: "Syncing…",
		Body:  "Catching up on updates you missed",
	}
}

// Preview collapses whitespace to a single line and truncates to max runes.
func Preview(s string, max int) string {
	line := strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(line) <= max {
		return line
	}
	runes := []rune(line)
	return strings.TrimSpace(string(runes[:max-1])) + "…"
}

func actorOrSomeone(actor string) string {
	if strings.TrimSpace(actor) == "" {
		return "Someone"
	}
	return actor
}
