package chat

import (
	"fmt"
	"strings"

	"github.com/casebot/backend/internal/storage/models"
	"github.com/casebot/backend/internal/vector"
)

// FallbackReply is sent when generation fails.
const FallbackReply = "I'm sorry, I couldn't process your request at the moment."

const maxDocumentChars = 2000

func senderLabel(sender string) string {
	switch sender {
	case models.SenderUser:
		return "User"
	case models.SenderBot:
		return "Bot"
	}
	if sender == "" {
		return "Unknown"
	}
	return strings.ToUpper(sender[:1]) + sender[1:]
}

// RenderHistory formats turns as "Sender: message" lines.
func RenderHistory(turns []models.ChatTurn) string {
	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		lines = append(lines, senderLabel(t.Sender)+": "+t.Message)
	}
	return strings.Join(lines, "\n")
}

// BuildPrompt grounds the answer in results, or says nothing relevant was
// found when results is empty.
func BuildPrompt(history string, results []vector.Result) string {
	var b strings.Builder

	b.WriteString("You are a legal research assistant answering questions about court cases.\n\n")
	b.WriteString("Conversation so far:\n")
	b.WriteString(history)
	b.WriteString("\n\n")

	if len(results) == 0 {
		b.WriteString("No relevant case documents were found for this question.\n")
		b.WriteString("Answer the user's latest message from the conversation alone, and mention that no supporting documents were found.")
		return b.String()
	}

	b.WriteString("Relevant case documents:\n")
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s (similarity %.3f)\n%s\n\n", i+1, r.ID, r.Similarity, truncate(r.Text, maxDocumentChars))
	}
	b.WriteString("Using these documents, refine an answer to the user's latest message. Name the documents you rely on.")
	return b.String()
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
