package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/lun1tunes/InstaChatico/internal/interfaces"
)

// SearchHandler exposes semantic catalog search for operators to probe what
// the answer agent would see, threshold filtering included.
type SearchHandler struct {
	searchService interfaces.SearchService
	logger        arbor.ILogger
}

// NewSearchHandler creates a new SearchHandler.
func NewSearchHandler(searchService interfaces.SearchService, logger arbor.ILogger) *SearchHandler {
	return &SearchHandler{
		searchService: searchService,
		logger:        logger,
	}
}

// SearchRequest is the POST /api/search body.
type SearchRequest struct {
	Query    string `json:"query"`
	Limit    int    `json:"limit,omitempty"`
	Category string `json:"category,omitempty"`
}

// SearchHandler handles POST /api/search.
func (h *SearchHandler) SearchHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		WriteError(w, http.StatusBadRequest, "query is required")
		return
	}

	result, err := h.searchService.Search(r.Context(), req.Query, interfaces.SearchOptions{
		Limit:    req.Limit,
		Category: req.Category,
	})
	if err != nil {
		h.logger.Error().Err(err).Str("query", req.Query).Msg("Search failed")
		WriteError(w, http.StatusInternalServerError, "Search failed")
		return
	}

	WriteJSON(w, http.StatusOK, result)
}
