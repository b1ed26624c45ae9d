package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/reelfeed/reelfeed/internal/api"
	"github.com/reelfeed/reelfeed/internal/httputil"
)

type profileView struct {
	User   api.ProfileUser  `json:"user"`
	Videos []videoView      `json:"videos"`
	Stats  api.ProfileStats `json:"stats"`
}

// bearer returns the stored token, or answers 401 and returns "".
func (s *Server) bearer(w http.ResponseWriter, message string) string {
	var token string
	if s.credentials != nil {
		token = s.credentials.Token()
	}
	if token == "" {
		httputil.WriteError(w, http.StatusUnauthorized, message)
	}
	return token
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	token := s.bearer(w, "Sign in to see your profile.")
	if token == "" {
		return
	}

	p, err := s.backend.Profile(r.Context(), token)
	if err != nil {
		s.writeAuthError(w, "profile", err)
		return
	}
	view := profileView{User: p.User, Stats: p.Stats, Videos: make([]videoView, 0, len(p.Videos))}
	for _, v := range p.Videos {
		view.Videos = append(view.Videos, s.videoView(v))
	}
	httputil.WriteJSON(w, http.StatusOK, view)
}

// handleLike toggles the like on a video and writes the new count back into
// the session's loaded sequence.
func (s *Server) handleLike(w http.ResponseWriter, r *http.Request) {
	videoID, err := strconv.ParseInt(chi.URLParam(r, "videoID"), 10, 64)
	if err != nil || videoID < 1 {
		httputil.WriteError(w, http.StatusBadRequest, "invalid video id")
		return
	}
	token := s.bearer(w, "Sign in to like videos.")
	if token == "" {
		return
	}

	likes, err := s.backend.ToggleLike(r.Context(), token, videoID)
	if err != nil {
		s.writeAuthError(w, "like", err)
		return
	}
	sess := sessionFrom(r.Context())
	sess.ctrl.SetLikes(videoID, likes)
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"id": videoID, "likes": likes})
}
