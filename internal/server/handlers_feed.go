package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/reelfeed/reelfeed/internal/api"
	"github.com/reelfeed/reelfeed/internal/feed"
	"github.com/reelfeed/reelfeed/internal/httputil"
	"github.com/reelfeed/reelfeed/internal/visibility"
)

type videoView struct {
	ElementID   string `json:"elementId"`
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
	UploaderID  int64  `json:"uploaderId"`
	CreatedAt   string `json:"createdAt"`
	IsPodcast   bool   `json:"isPodcast"`
	Views       int    `json:"views"`
	Likes       int    `json:"likes"`
}

type feedView struct {
	SessionID string      `json:"sessionId"`
	Category  string      `json:"category"`
	Videos    []videoView `json:"videos"`
	State     string      `json:"state"`
	HasMore   bool        `json:"hasMore"`
	IsLoading bool        `json:"isLoading"`
	Outcome   string      `json:"outcome,omitempty"`
	Error     string      `json:"error,omitempty"`
}

type categoryRequest struct {
	Category string `json:"category"`
}

type nearEndRequest struct {
	Index *int `json:"index"`
}

type visibilityEntry struct {
	ElementID string  `json:"elementId"`
	Ratio     float64 `json:"ratio"`
}

type visibilityRequest struct {
	visibilityEntry
	Entries []visibilityEntry `json:"entries"`
}

func (s *Server) feedView(sess *session, outcome *feed.Outcome) feedView {
	snap := sess.ctrl.Snapshot()
	view := feedView{
		SessionID: sess.id,
		Category:  snap.Category.String(),
		Videos:    make([]videoView, 0, len(snap.Videos)),
		State:     snap.State.String(),
		HasMore:   snap.HasMore,
		IsLoading: snap.IsLoading,
	}
	if outcome != nil {
		view.Outcome = outcome.String()
	}
	if snap.LastError != "" {
		view.Error = sess.notice()
	}
	for _, v := range snap.Videos {
		view.Videos = append(view.Videos, s.videoView(v))
	}
	return view
}

func (s *Server) videoView(v feed.Video) videoView {
	return videoView{
		ElementID:   strconv.FormatInt(v.ID, 10),
		ID:          v.ID,
		Title:       v.Title,
		Description: v.Description,
		URL:         s.backend.MediaURL(v.URL),
		UploaderID:  v.UploaderID,
		CreatedAt:   v.CreatedAt,
		IsPodcast:   v.IsPodcast,
		Views:       v.Views,
		Likes:       v.Likes,
	}
}

// writeLoad answers a request that triggered a page load. Failures still
// carry the current feed so the client can keep rendering what it has.
func (s *Server) writeLoad(w http.ResponseWriter, sess *session, status int, outcome feed.Outcome, err error) {
	if err == nil {
		sess.clearNotice()
	}
	view := s.feedView(sess, &outcome)
	switch {
	case err == nil:
	case errors.Is(err, feed.ErrClosed):
		httputil.WriteError(w, http.StatusGone, "feed session closed")
		return
	case errors.Is(err, feed.ErrAuthRequired), errors.Is(err, api.ErrUnauthorized):
		status = http.StatusUnauthorized
	default:
		status = http.StatusBadGateway
	}
	if err != nil && view.Error == "" {
		view.Error = userMessage(err)
	}
	httputil.WriteJSON(w, status, view)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	category := s.defaultCategory
	if req.Category != "" {
		parsed, err := feed.ParseCategory(req.Category)
		if err != nil {
			httputil.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		category = parsed
	}

	sess, err := s.openSession(r)
	if err != nil {
		httputil.WriteError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	outcome, err := sess.ctrl.Reset(r.Context(), category)
	sess.sync(true)
	s.writeLoad(w, sess, http.StatusCreated, outcome, err)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	s.closeSession(sessionFrom(r.Context()).id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetFeed(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, s.feedView(sessionFrom(r.Context()), nil))
}

func (s *Server) handleSetCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	category, err := feed.ParseCategory(req.Category)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	sess := sessionFrom(r.Context())
	outcome, err := sess.ctrl.Reset(r.Context(), category)
	sess.sync(true)
	s.writeLoad(w, sess, http.StatusOK, outcome, err)
}

func (s *Server) handleNearEnd(w http.ResponseWriter, r *http.Request) {
	var req nearEndRequest
	if err := httputil.DecodeJSON(r, &req); err != nil || req.Index == nil || *req.Index < 0 {
		httputil.WriteError(w, http.StatusBadRequest, "index is required")
		return
	}

	sess := sessionFrom(r.Context())
	outcome, err := sess.ctrl.OnNearEnd(r.Context(), *req.Index)
	sess.sync(false)
	s.writeLoad(w, sess, http.StatusOK, outcome, err)
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	outcome, err := sess.ctrl.LoadNextPage(r.Context())
	sess.sync(false)
	s.writeLoad(w, sess, http.StatusOK, outcome, err)
}

// handleVisibility accepts either one {elementId, ratio} pair or a batch
// under "entries".
func (s *Server) handleVisibility(w http.ResponseWriter, r *http.Request) {
	var req visibilityRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	entries := req.Entries
	if req.ElementID != "" {
		entries = append(entries, req.visibilityEntry)
	}
	if len(entries) == 0 {
		httputil.WriteError(w, http.StatusBadRequest, "elementId is required")
		return
	}
	for _, e := range entries {
		if e.ElementID == "" || e.Ratio < 0 || e.Ratio > 1 {
			httputil.WriteError(w, http.StatusBadRequest, "each entry needs an elementId and a ratio in [0, 1]")
			return
		}
	}

	sess := sessionFrom(r.Context())
	for _, e := range entries {
		if err := sess.obs.Report(r.Context(), e.ElementID, e.Ratio); err != nil {
			if errors.Is(err, visibility.ErrClosed) {
				httputil.WriteError(w, http.StatusGone, "feed session closed")
				return
			}
			httputil.WriteError(w, http.StatusServiceUnavailable, "visibility report interrupted")
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePlayback(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"playing": sess.playingIDs(),
	})
}
