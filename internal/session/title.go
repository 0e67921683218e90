package session

import "strings"

const maxTitleLength = 30

// TitleFromMessage derives a chat title from the first user message,
// truncating anything longer than 30 characters and appending an ellipsis.
func TitleFromMessage(message string) string {
	title := strings.TrimSpace(message)
	if runes := []rune(title); len(runes) > maxTitleLength {
		title = string(runes[:maxTitleLength]) + "..."
	}
	return title
}
