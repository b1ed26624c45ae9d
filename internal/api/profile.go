package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/reelfeed/reelfeed/internal/feed"
)

type ProfileUser struct {
	ID             int64  `json:"id"`
	Username       string `json:"username"`
	Email          string `json:"email"`
	FollowersCount int    `json:"followersCount"`
	FollowingCount int    `json:"followingCount"`
}

type ProfileStats struct {
	TotalVideos   int `json:"totalVideos"`
	TotalLikes    int `json:"totalLikes"`
	TotalViews    int `json:"totalViews"`
	TotalComments int `json:"totalComments"`
}

// Profile is the signed-in user's account page: who they are, what they
// uploaded and how it is doing.
type Profile struct {
	User   ProfileUser  `json:"user"`
	Videos []feed.Video `json:"videos"`
	Stats  ProfileStats `json:"stats"`
}

// Profile fetches GET /profile/ for the owner of token.
func (c *Client) Profile(ctx context.Context, token string) (Profile, error) {
	req, err := c.authorized(ctx, http.MethodGet, "/profile/", token)
	if err != nil {
		return Profile{}, &Error{Sentinel: ErrNetwork, Op: "profile", Err: err}
	}
	var p Profile
	if err := c.do(req, "profile", &p); err != nil {
		return Profile{}, err
	}
	if p.Videos == nil {
		p.Videos = []feed.Video{}
	}
	return p, nil
}

type likeResponse struct {
	Message string `json:"message"`
	Likes   *int   `json:"likes"`
}

// ToggleLike likes the video, or unlikes it when the user already did, and
// returns the video's new like count.
func (c *Client) ToggleLike(ctx context.Context, token string, videoID int64) (int, error) {
	req, err := c.authorized(ctx, http.MethodPost, "/video/like/"+strconv.FormatInt(videoID, 10), token)
	if err != nil {
		return 0, &Error{Sentinel: ErrNetwork, Op: "like", Err: err}
	}
	var resp likeResponse
	if err := c.do(req, "like", &resp); err != nil {
		return 0, err
	}
	if resp.Likes == nil {
		return 0, &Error{Sentinel: ErrBadResponse, Op: "like", Detail: `missing "likes"`}
	}
	return *resp.Likes, nil
}

func (c *Client) authorized(ctx context.Context, method, path, token string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return req, nil
}
