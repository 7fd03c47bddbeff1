package answer

import (
	"context"
	"errors"
	"fmt"

	"github.com/lun1tunes/InstaChatico/internal/interfaces"
	"github.com/lun1tunes/InstaChatico/internal/models"
)

// Turn is one completed question/answer exchange from earlier in a thread.
type Turn struct {
	Question string
	Answer   string
}

// History assembles bounded conversation context for generation. Assembly
// tolerates stale sibling reads: it takes whatever is completed at read time
// and silently skips the rest.
type History struct {
	comments interfaces.CommentStorage
	answers  interfaces.AnswerStorage
	maxTurns int
}

func NewHistory(comments interfaces.CommentStorage, answers interfaces.AnswerStorage, maxTurns int) *History {
	if maxTurns < 1 {
		maxTurns = 1
	}
	return &History{comments: comments, answers: answers, maxTurns: maxTurns}
}

// Collect returns up to maxTurns completed turns for the conversation, oldest
// first, excluding the comment currently being answered.
func (h *History) Collect(ctx context.Context, conversationID, excludeCommentID string) ([]Turn, error) {
	if conversationID == "" {
		return nil, nil
	}

	comments, err := h.comments.ListByConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("listing conversation %s: %w", conversationID, err)
	}

	var turns []Turn
	for _, c := range comments {
		if c.ID == excludeCommentID {
			continue
		}

		ans, err := h.answers.GetAnswer(ctx, c.ID)
		if err != nil {
			if errors.Is(err, interfaces.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("loading answer for %s: %w", c.ID, err)
		}
		if ans.ProcessingStatus != models.StatusCompleted || ans.Text == "" {
			continue
		}

		turns = append(turns, Turn{Question: c.Text, Answer: ans.Text})
	}

	// Keep the most recent turns; the order stays oldest first.
	if len(turns) > h.maxTurns {
		turns = turns[len(turns)-h.maxTurns:]
	}
	return turns, nil
}
