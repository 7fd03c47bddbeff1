package media

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/lun1tunes/InstaChatico/internal/interfaces"
	"github.com/lun1tunes/InstaChatico/internal/models"
)

// visionInstructions guides the context description toward what customers
// actually ask about in comments.
const visionInstructions = `You are analyzing an image from a business Instagram post. Produce a context description that will be used to answer customer comments on the post.

Extract everything a customer might ask about:
- All visible text, prices, discounts, and contact information
- Schedules, dates, and event details
- Products and services with their visible characteristics

Describe products by purpose and characteristics (for example "anti-cellulite coffee body scrub"), not only by brand name, so short questions like "how much?" can be matched to what the post shows.

Format the result as concise markdown with short sections. Be factual; do not invent details that are not visible.`

// Service owns media post records and their vision enrichment.
type Service struct {
	storage  interfaces.MediaStorage
	llm      interfaces.LLMService
	platform interfaces.PlatformClient
	logger   arbor.ILogger
}

// NewService builds the media service. platform may be nil when no detail
// fetching is needed (Ensure then records posts without an image).
func NewService(storage interfaces.MediaStorage, llm interfaces.LLMService, platform interfaces.PlatformClient, logger arbor.ILogger) (*Service, error) {
	if storage == nil {
		return nil, fmt.Errorf("media storage is required")
	}
	if llm == nil {
		return nil, fmt.Errorf("llm service is required")
	}
	return &Service{storage: storage, llm: llm, platform: platform, logger: logger}, nil
}

// Ensure returns the media post record, fetching platform details to create
// it on first sight. A fetch failure degrades to a record without an image so
// comment processing can proceed, just without vision context. Only images
// and carousel albums keep their URL; the vision model cannot read video.
func (s *Service) Ensure(ctx context.Context, mediaID string) (*models.MediaPost, bool, error) {
	if mediaID == "" {
		return nil, false, fmt.Errorf("media id is required")
	}

	existing, err := s.storage.GetMedia(ctx, mediaID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, interfaces.ErrNotFound) {
		return nil, false, fmt.Errorf("loading media %s: %w", mediaID, err)
	}

	var caption, mediaType, mediaURL, permalink string
	if s.platform != nil {
		info, fetchErr := s.platform.GetMediaInfo(ctx, mediaID)
		if fetchErr != nil {
			s.logger.Warn().
				Err(fetchErr).
				Str("media_id", mediaID).
				Msg("Media detail fetch failed; recording post without image")
		} else {
			caption = info.Caption
			mediaType = info.MediaType
			permalink = info.Permalink
			if info.MediaType == "IMAGE" || info.MediaType == "CAROUSEL_ALBUM" {
				mediaURL = info.MediaURL
			}
		}
	}

	return s.GetOrCreate(ctx, mediaID, caption, mediaType, mediaURL, permalink)
}

// GetOrCreate returns the media post record, creating it on first sight. The
// returned bool reports whether a record was created, which is the caller's
// cue to enqueue analysis. A duplicate-create race resolves to the winner's
// record.
func (s *Service) GetOrCreate(ctx context.Context, id, caption, mediaType, mediaURL, permalink string) (*models.MediaPost, bool, error) {
	if id == "" {
		return nil, false, fmt.Errorf("media id is required")
	}

	existing, err := s.storage.GetMedia(ctx, id)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, interfaces.ErrNotFound) {
		return nil, false, fmt.Errorf("loading media %s: %w", id, err)
	}

	post := models.NewMediaPost(id, caption, mediaType, mediaURL, permalink)
	if err := s.storage.CreateMedia(ctx, post); err != nil {
		if errors.Is(err, interfaces.ErrDuplicate) {
			winner, getErr := s.storage.GetMedia(ctx, id)
			if getErr != nil {
				return nil, false, fmt.Errorf("loading media %s after duplicate create: %w", id, getErr)
			}
			return winner, false, nil
		}
		return nil, false, fmt.Errorf("creating media %s: %w", id, err)
	}

	s.logger.Info().
		Str("media_id", id).
		Str("media_type", mediaType).
		Bool("has_image", mediaURL != "").
		Msg("Media post recorded")

	return post, true, nil
}

// Analyze runs the vision model over the post's image and returns the
// markdown context description. Status transitions on the record belong to
// the caller.
func (s *Service) Analyze(ctx context.Context, post *models.MediaPost) (string, error) {
	if post == nil {
		return "", fmt.Errorf("media post is required")
	}
	if post.MediaURL == "" {
		return "", fmt.Errorf("media %s has no image to analyze", post.ID)
	}

	prompt := visionInstructions
	if post.Caption != "" {
		prompt += "\n\nPost caption: " + post.Caption +
			"\n\nUse the caption to resolve ambiguity about what the image shows."
	}

	start := time.Now()
	description, err := s.llm.AnalyzeImage(ctx, post.MediaURL, prompt)
	if err != nil {
		return "", fmt.Errorf("vision analysis for media %s failed: %w", post.ID, err)
	}
	if strings.TrimSpace(description) == "" {
		return "", fmt.Errorf("vision analysis for media %s returned no content", post.ID)
	}

	s.logger.Info().
		Str("media_id", post.ID).
		Int("context_chars", len(description)).
		Int64("duration_ms", time.Since(start).Milliseconds()).
		Msg("Media context generated")

	return description, nil
}
