package feed

import "context"

// Video is one descriptor as returned by the feed endpoints. Values are
// never modified after they are received.
type Video struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
	UploaderID  int64  `json:"uploader_id"`
	CreatedAt   string `json:"created_at"`
	IsPodcast   bool   `json:"is_podcast"`
	Views       int    `json:"views"`
	Likes       int    `json:"likes"`
	Comments    int    `json:"comments,omitempty"`
}

// Page describes a single paged request against a category endpoint.
type Page struct {
	Category Category
	Skip     int
	Limit    int
	Token    string // empty means no Authorization header
}

// Fetcher retrieves one batch of videos. Implementations must honour ctx
// cancellation.
type Fetcher interface {
	FetchPage(ctx context.Context, page Page) ([]Video, error)
}

type FetcherFunc func(ctx context.Context, page Page) ([]Video, error)

func (f FetcherFunc) FetchPage(ctx context.Context, page Page) ([]Video, error) {
	return f(ctx, page)
}

// TokenSource hands the controller the bearer credential at fetch time. The
// controller only reads it.
type TokenSource interface {
	Token() string
}

// StaticToken is a fixed credential, empty when the user is signed out.
type StaticToken string

func (t StaticToken) Token() string { return string(t) }

// Reporter receives load failures for display.
type Reporter interface {
	ReportFailure(category Category, err error)
}
