package feed

import (
	"errors"
	"fmt"
)

// Category selects one of the backend's independent video streams.
type Category string

const (
	ForYou    Category = "for-you"
	Following Category = "following"
	Podcasts  Category = "podcasts"
)

var ErrUnknownCategory = errors.New("unknown feed category")

// Categories lists every supported category in sidebar order.
func Categories() []Category {
	return []Category{ForYou, Following, Podcasts}
}

// ParseCategory accepts the wire names plus the "forYou" tab name the web
// client used before the routes were renamed.
func ParseCategory(s string) (Category, error) {
	switch s {
	case string(ForYou), "forYou":
		return ForYou, nil
	case string(Following):
		return Following, nil
	case string(Podcasts):
		return Podcasts, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCategory, s)
}

func (c Category) Valid() bool {
	switch c {
	case ForYou, Following, Podcasts:
		return true
	}
	return false
}

// Path is the backend endpoint serving this category.
func (c Category) Path() string {
	return "/video/feed/" + string(c)
}

// RequiresAuth reports whether fetching this category needs a bearer token.
func (c Category) RequiresAuth() bool {
	return c == Following
}

func (c Category) String() string {
	return string(c)
}
