package completion

import (
	"fmt"
	"strings"

	"github.com/WhyNeet/t3-chat-clone/internal/chat"
	"github.com/WhyNeet/t3-chat-clone/internal/search"
)

// MemoryNone is the extraction output meaning nothing new should be remembered.
const MemoryNone = "NONE"

const titlePromptTemplate = "Here are some examples of first messages and their chat names:\n\n" +
	"input: I need help choosing a new laptop for college.\n" +
	"output: Laptop Recommendations for College\n\n" +
	"input:  Best places to eat Italian food in downtown Chicago?\n" +
	"output: Chicago Italian Food Guide\n\n" +
	"Now, generate a descriptive name for a chat where the first message was: \"%s\"\n" +
	"Your output must be a SINGLE, SHORT sentence. Do not include any parentheses, other symbols or any words except for the final result."

// TitlePrompt builds the one-shot prompt that names a chat after its first message.
func TitlePrompt(message string) string {
	return fmt.Sprintf(titlePromptTemplate, message)
}

// maxSearchResults caps how many hits go into the augmented prompt.
const maxSearchResults = 10

// SearchPrompt wraps query in a retrieval-augmented template over results.
func SearchPrompt(query string, results []search.Result) string {
	var ctx strings.Builder
	for i, r := range results {
		if i == maxSearchResults {
			break
		}
		fmt.Fprintf(&ctx, " - Title: %s;\nSnippet: %s;\nSource: %s;\n", r.Title, r.Snippet, r.Link)
	}
	return "Use the following search results to answer the query. If information is insufficient, state that.;\n" +
		" Search Results:\n" + ctx.String() + ";\n" +
		" Query: " + strings.TrimSpace(query) + ";\n" +
		" \nAnswer:"
}

const memoryInstructions = `You maintain a short list of long-lived facts about the user (preferences, background, ongoing projects).
Read the user's latest message and decide whether it reveals one new fact worth remembering in future conversations.
Do not repeat a fact that is already known. Ignore one-off requests and questions.
If there is a new fact, reply with that single fact as one short sentence written in the third person.
If there is nothing new to remember, reply with exactly: NONE

Known facts:
`

// MemoryPrompt builds the system instruction for memory extraction.
func MemoryPrompt(existing []chat.Memory) string {
	var sb strings.Builder
	sb.WriteString(memoryInstructions)
	if len(existing) == 0 {
		sb.WriteString("(none)\n")
	}
	for _, m := range existing {
		sb.WriteString("- ")
		sb.WriteString(m.Content)
		sb.WriteString("\n")
	}
	return sb.String()
}

// cleanTitle trims whitespace and wrapping quotes from a generated title.
func cleanTitle(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "\"'")
	return strings.TrimSpace(s)
}
