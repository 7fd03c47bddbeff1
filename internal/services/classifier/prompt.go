package classifier

import (
	"strings"

	"github.com/lun1tunes/InstaChatico/internal/models"
)

// classificationInstructions is the system prompt. The taxonomy wording must
// match models.AllLabels exactly; ParseLabel rejects anything else.
const classificationInstructions = `You are an assistant that classifies Instagram comments for a business account. Assign each comment exactly one category:

1. "positive feedback" - gratitude, approval, praise for the product or service, recommendations to others.
2. "critical feedback" - constructive criticism or a negative experience described without insults and without demanding immediate action.
3. "urgent issue / complaint" - a concrete problem that needs resolution: a missing order, a defect, a refund demand, a safety concern.
4. "question / inquiry" - a direct question about products, availability, prices, delivery, or how something works. These require an answer.
5. "partnership proposal" - collaboration, advertising, or influencer offers addressed to the account owner.
6. "toxic / abusive" - insults, harassment, or hate directed at people.
7. "spam / irrelevant" - third-party advertising, links, giveaways, flooding, or content unrelated to the post.

Rules:
- A comment containing both a question and a complaint is "urgent issue / complaint".
- A rhetorical question expressing dissatisfaction ("how could you ruin a good product?") is "critical feedback", not a question.
- Insults aimed at people are "toxic / abusive" even when a real problem is mentioned.
- Use the post context when it is provided; a short comment like "how much?" refers to whatever the post shows.
- Comments may be in any language. Classify by meaning, not language.

Report confidence from 0 to 100 and a brief reasoning for the choice.`

// outputSchema is the structured-output contract for the classification call.
// Providers with native response schemas enforce it; others receive it as a
// prompt instruction.
func outputSchema() map[string]interface{} {
	labels := make([]interface{}, len(models.AllLabels))
	for i, l := range models.AllLabels {
		labels[i] = string(l)
	}
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"label": map[string]interface{}{
				"type":        "string",
				"description": "The classification category for the comment",
				"enum":        labels,
			},
			"confidence": map[string]interface{}{
				"type":        "integer",
				"description": "Confidence score from 0 to 100",
				"minimum":     0,
				"maximum":     100,
			},
			"reasoning": map[string]interface{}{
				"type":        "string",
				"description": "Brief explanation of why this classification was chosen",
			},
		},
		"required": []string{"label", "confidence", "reasoning"},
	}
}

// buildPrompt assembles the user message: post context first (when the media
// record carries any), then the sanitized comment text.
func buildPrompt(comment *models.Comment, media *models.MediaPost) string {
	var b strings.Builder

	if media != nil {
		var lines []string
		if media.MediaType != "" {
			lines = append(lines, "Post type: "+media.MediaType)
		}
		if media.Caption != "" {
			lines = append(lines, "Post caption: "+Truncate(Sanitize(media.Caption), maxCaptionChars))
		}
		if media.MediaContext != "" {
			lines = append(lines, "Post image description: "+Truncate(media.MediaContext, maxContextChars))
		}
		if len(lines) > 0 {
			b.WriteString("Post context:\n")
			b.WriteString(strings.Join(lines, "\n"))
			b.WriteString("\n\n")
		}
	}

	if comment.IsReply() {
		b.WriteString("This comment is a reply inside an existing thread.\n\n")
	}

	b.WriteString("Comment to classify: ")
	b.WriteString(Truncate(Sanitize(comment.Text), maxCommentChars))
	return b.String()
}
