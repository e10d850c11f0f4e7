package handler

import (
	"mime"
	"net/http"

	"github.com/trailpay/platform/internal/domain"
	"github.com/trailpay/platform/internal/provider"
	"github.com/trailpay/platform/internal/service"
)

// TrailHandler serves trail documents to learners and accepts them from creators.
type TrailHandler struct {
	sessions *service.SessionService
	trails   *service.TrailService
}

// NewTrailHandler creates a new TrailHandler.
func NewTrailHandler(sessions *service.SessionService, trails *service.TrailService) *TrailHandler {
	return &TrailHandler{sessions: sessions, trails: trails}
}

// Get handles GET /trails/{trailID}.
func (h *TrailHandler) Get(w http.ResponseWriter, r *http.Request) {
	trailID, err := uuidParam(r, "trailID")
	if err != nil {
		RespondError(w, err)
		return
	}
	trail, err := h.sessions.Trail(r.Context(), trailID)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, trail)
}

// Publish handles PUT /creator/trails/{trailID}. The body is either JSON or a
// TOML trail file sent as application/toml.
func (h *TrailHandler) Publish(w http.ResponseWriter, r *http.Request) {
	creatorID, err := subjectIDFromContext(r)
	if err != nil {
		RespondError(w, err)
		return
	}
	trailID, err := uuidParam(r, "trailID")
	if err != nil {
		RespondError(w, err)
		return
	}

	trail, err := decodeTrail(r)
	if err != nil {
		RespondError(w, err)
		return
	}
	trail.ID = trailID

	if err := h.trails.Publish(r.Context(), creatorID, trail); err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, trail)
}

func decodeTrail(r *http.Request) (*domain.Trail, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/toml" {
		trail, err := provider.DecodeTrail(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
		if err != nil {
			return nil, domain.ErrValidation(err.Error())
		}
		return trail, nil
	}

	var trail domain.Trail
	if err := DecodeJSON(r, &trail); err != nil {
		return nil, domain.ErrValidation("invalid request body")
	}
	return &trail, nil
}
