package answer

import (
	"strings"

	"github.com/lun1tunes/InstaChatico/internal/models"
	"github.com/lun1tunes/InstaChatico/internal/services/classifier"
)

// Prompt size caps, in runes.
const (
	maxQuestionChars = 1000
	maxCaptionChars  = 500
	maxContextChars  = 1000
)

// responseInstructions is the agent system prompt: house rules, the tool
// protocol, and the final-answer contract. The tool names and JSON shapes
// must match tools.go.
const responseInstructions = `You are replying to customer comments on a business Instagram account. Write replies the business owner would be happy to post: short (Instagram comment length), warm, specific, and honest.

Rules:
- Never invent prices, availability, or product details. Product facts come only from the product_search tool.
- Answer in the language the customer used.
- One reply per comment; no hashtags, no @-mentions, no emoji walls.
- If you cannot help, say so politely and point to another contact channel.

TOOLS

You may call at most one tool per turn. To call a tool, respond with exactly one fenced JSON block and nothing else:

` + "```json" + `
{"tool_use": {"name": "product_search", "query": "<what to look up>", "limit": 5, "category": ""}}
` + "```" + `

or

` + "```json" + `
{"tool_use": {"name": "image_analysis", "question": "<what to look for in the post image>"}}
` + "```" + `

product_search is the only source of product and price information. Enrich the query with the post context: if the post is about a coffee body scrub and the customer asks "how much?", search for "coffee body scrub", not "price".
- A NO_MATCH result means the product is not offered. Tell the customer politely; do not describe alternatives you did not find.
- An EMPTY_CATALOG result means you cannot look products up right now. Say so and offer another way to get the answer.

image_analysis describes the post's image. Use it when the customer asks about something visible ("the blue one", "what is on the left?").

FINAL ANSWER

When you are ready to answer, respond with only this JSON object (no fences, no extra text):

{"answer": "<the reply text>", "confidence": <0.0-1.0>, "reasoning": "<why this answer>", "quality_score": <0-100>, "is_helpful": <true|false>, "contains_contact_info": <true|false>, "tone": "<professional|friendly|formal|casual>"}`

// buildUserMessage assembles the first turn: post context, prior completed
// turns, then the sanitized question.
func buildUserMessage(comment *models.Comment, media *models.MediaPost, history []Turn) string {
	var b strings.Builder

	if media != nil {
		var lines []string
		if media.Caption != "" {
			lines = append(lines, "Post caption: "+classifier.Truncate(classifier.Sanitize(media.Caption), maxCaptionChars))
		}
		if media.MediaContext != "" {
			lines = append(lines, "Post image description: "+classifier.Truncate(media.MediaContext, maxContextChars))
		}
		if len(lines) > 0 {
			b.WriteString("Post context:\n")
			b.WriteString(strings.Join(lines, "\n"))
			b.WriteString("\n\n")
		}
	}

	if len(history) > 0 {
		b.WriteString("Previous conversation in this thread:\n")
		for _, turn := range history {
			b.WriteString("Customer: " + classifier.Truncate(classifier.Sanitize(turn.Question), maxQuestionChars) + "\n")
			b.WriteString("You replied: " + classifier.Truncate(turn.Answer, maxQuestionChars) + "\n")
		}
		b.WriteString("\n")
	}

	b.WriteString("Customer comment: ")
	b.WriteString(classifier.Truncate(classifier.Sanitize(comment.Text), maxQuestionChars))
	return b.String()
}
