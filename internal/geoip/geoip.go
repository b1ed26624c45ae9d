// Package geoip maps client addresses to ISO country codes for the play
// journal. Without a database every lookup is empty.
package geoip

import (
	"net"

	"github.com/oschwald/maxminddb-golang"
	"github.com/rs/zerolog"
)

type Resolver struct {
	db *maxminddb.Reader
}

type countryRecord struct {
	Country struct {
		ISOCode string `maxminddb:"iso_code"`
	} `maxminddb:"country"`
}

// Open loads the MaxMind database at path. A missing or unreadable file
// disables lookups instead of failing startup.
func Open(path string, logger zerolog.Logger) *Resolver {
	if path == "" {
		return &Resolver{}
	}
	db, err := maxminddb.Open(path)
	if err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("geoip database unavailable, countries disabled")
		return &Resolver{}
	}
	logger.Info().Str("path", path).Str("type", db.Metadata.DatabaseType).Msg("geoip database loaded")
	return &Resolver{db: db}
}

func (r *Resolver) Enabled() bool {
	return r != nil && r.db != nil
}

// Country returns the ISO code for ip, or "" when unknown.
func (r *Resolver) Country(ip string) string {
	if !r.Enabled() || ip == "" {
		return ""
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return ""
	}
	var rec countryRecord
	if err := r.db.Lookup(parsed, &rec); err != nil {
		return ""
	}
	return rec.Country.ISOCode
}

func (r *Resolver) Close() error {
	if r.Enabled() {
		return r.db.Close()
	}
	return nil
}
