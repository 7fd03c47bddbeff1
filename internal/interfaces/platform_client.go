package interfaces

import (
	"context"
	"errors"
	"time"
)

// ErrPlatformRateLimited is returned by SendReply when the platform rejects
// the call for rate limiting. Dispatch treats it as retryable, never as a
// permanent failure.
var ErrPlatformRateLimited = errors.New("platform rate limit exceeded")

// CommentInfo is the platform's view of a comment, fetched on demand.
type CommentInfo struct {
	ID          string
	Text        string
	Username    string
	ParentID    string
	CreatedTime time.Time
}

// MediaInfo is the platform's view of a media post. MediaURL is empty for
// media types the platform serves no direct URL for (reels, some carousels).
type MediaInfo struct {
	ID            string
	Caption       string
	MediaType     string
	MediaURL      string
	Permalink     string
	Username      string
	CommentsCount int
}

// PlatformClient is the outbound platform collaborator. Credential/token
// lifecycle is the implementation's responsibility; callers supply retry and
// backoff.
type PlatformClient interface {
	// SendReply posts text as a reply to a comment and returns the
	// platform-assigned reply id. Rate-limit rejections surface as
	// ErrPlatformRateLimited for retryable handling.
	SendReply(ctx context.Context, commentID, text string) (replyID string, err error)

	// HideComment hides or unhides a comment.
	HideComment(ctx context.Context, commentID string, hide bool) error

	// GetCommentInfo fetches comment metadata.
	GetCommentInfo(ctx context.Context, commentID string) (*CommentInfo, error)

	// GetMediaInfo fetches media metadata for a post.
	GetMediaInfo(ctx context.Context, mediaID string) (*MediaInfo, error)

	// ValidateToken verifies the configured access token.
	ValidateToken(ctx context.Context) error

	// TokenExpiration reports when the access token expires. Zero time means
	// the platform reports no expiry.
	TokenExpiration(ctx context.Context) (time.Time, error)
}
