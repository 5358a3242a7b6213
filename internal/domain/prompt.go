package domain

import "fmt"

// generation prompt shared by all provider backends, so switching providers
// never changes the grounding instructions.
const systemPrompt = `You are an assistant that answers questions about uploaded documents.
Answer based ONLY on the provided document excerpts. Every excerpt is labeled
with its source file and page; mention the source when you use it. If the
excerpts do not contain enough information, say so explicitly instead of
guessing. Keep answers concise.`

const noContextSystemPrompt = `You are an assistant that answers questions about uploaded documents.
No relevant document content was found for this question. Say that no relevant
content was found in the uploaded documents, then answer from general
knowledge if you can, clearly marking it as not sourced from the documents.`

// PromptMessages renders the (system, user) message pair for the generation
// collaborator. An empty contextText selects the no-sources fallback framing.
func PromptMessages(question, contextText string) (system, user string) {
	if contextText == "" {
		return noContextSystemPrompt, fmt.Sprintf("Question: %s", question)
	}
	return systemPrompt, fmt.Sprintf("Document excerpts:\n\n%s\nQuestion: %s", contextText, question)
}
