package models

import "time"

// MediaAnalysisStatus tracks asynchronous vision enrichment of a media post.
type MediaAnalysisStatus string

const (
	MediaAnalysisPending   MediaAnalysisStatus = "pending"
	MediaAnalysisCompleted MediaAnalysisStatus = "completed"
	MediaAnalysisFailed    MediaAnalysisStatus = "failed"
	MediaAnalysisSkipped   MediaAnalysisStatus = "skipped" // no image to analyze
)

// MediaPost is the platform post a comment belongs to. MediaContext is filled
// asynchronously by the vision model; classification defers while a post with
// an image still lacks it.
type MediaPost struct {
	ID            string `json:"id" badgerhold:"key"`
	Caption       string `json:"caption,omitempty"`
	MediaType     string `json:"media_type,omitempty"` // IMAGE, VIDEO, CAROUSEL_ALBUM
	MediaURL      string `json:"media_url,omitempty"`
	Permalink     string `json:"permalink,omitempty"`
	CommentsCount int    `json:"comments_count"`

	AnalysisStatus MediaAnalysisStatus `json:"analysis_status" badgerhold:"index"`
	MediaContext   string              `json:"media_context,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewMediaPost creates a media record. Analysis starts pending only when
// there is an image URL to analyze.
func NewMediaPost(id, caption, mediaType, mediaURL, permalink string) *MediaPost {
	now := time.Now().UTC()
	status := MediaAnalysisSkipped
	if mediaURL != "" {
		status = MediaAnalysisPending
	}
	return &MediaPost{
		ID:             id,
		Caption:        caption,
		MediaType:      mediaType,
		MediaURL:       mediaURL,
		Permalink:      permalink,
		AnalysisStatus: status,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// ContextPending reports whether classification should defer: an image exists
// but its context description has not arrived yet.
func (m *MediaPost) ContextPending() bool {
	return m.MediaURL != "" && m.MediaContext == "" && m.AnalysisStatus == MediaAnalysisPending
}

// SetContext stores the vision model's description.
func (m *MediaPost) SetContext(context string) {
	m.MediaContext = context
	m.AnalysisStatus = MediaAnalysisCompleted
	m.UpdatedAt = time.Now().UTC()
}

// MarkAnalysisFailed unblocks deferred classification after analysis gave up.
func (m *MediaPost) MarkAnalysisFailed() {
	m.AnalysisStatus = MediaAnalysisFailed
	m.UpdatedAt = time.Now().UTC()
}
