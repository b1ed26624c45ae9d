// Package history journals playback starts so the client can show what was
// watched recently.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/mssola/useragent"
)

const maxRecent = 200

// Play is one playback start.
type Play struct {
	VideoID   int64     `json:"videoId"`
	Category  string    `json:"category"`
	SessionID string    `json:"sessionId"`
	Browser   string    `json:"browser"`
	Platform  string    `json:"platform"`
	Country   string    `json:"country,omitempty"`
	PlayedAt  time.Time `json:"playedAt"`
}

type Journal struct {
	db DBTX
}

func NewJournal(db DBTX) *Journal {
	return &Journal{db: db}
}

func (j *Journal) Record(ctx context.Context, p Play) error {
	if _, err := j.db.Exec(ctx,
		`INSERT INTO plays (video_id, category, session_id, browser, platform, country)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		p.VideoID, p.Category, p.SessionID, p.Browser, p.Platform, p.Country,
	); err != nil {
		return fmt.Errorf("insert play: %w", err)
	}
	return nil
}

// Recent returns the latest plays, newest first. A limit that is not
// positive or exceeds 200 returns 200 plays.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Play, error) {
	if limit <= 0 || limit > maxRecent {
		limit = maxRecent
	}
	rows, err := j.db.Query(ctx,
		`SELECT video_id, category, session_id, browser, platform, country, played_at
		 FROM plays ORDER BY played_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query plays: %w", err)
	}
	defer rows.Close()

	plays := make([]Play, 0, limit)
	for rows.Next() {
		var p Play
		if err := rows.Scan(&p.VideoID, &p.Category, &p.SessionID, &p.Browser, &p.Platform, &p.Country, &p.PlayedAt); err != nil {
			return nil, fmt.Errorf("scan play: %w", err)
		}
		plays = append(plays, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate plays: %w", err)
	}
	return plays, nil
}

// DescribeAgent reduces a User-Agent header to a browser name and an OS.
func DescribeAgent(header string) (browser, platform string) {
	if header == "" {
		return "", ""
	}
	ua := useragent.New(header)
	if ua.Bot() {
		return "bot", ua.OS()
	}
	name, _ := ua.Browser()
	return name, ua.OS()
}
