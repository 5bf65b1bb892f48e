// Package geoip resolves client addresses to a city and country using a
// local MaxMind database.
package geoip

import (
	"log"
	"net"

	"github.com/oschwald/maxminddb-golang"

	"argus/internal/models"
)

type Resolver struct {
	db *maxminddb.Reader
}

type mmdbRecord struct {
	City struct {
		Names map[string]string `maxminddb:"names"`
	} `maxminddb:"city"`
	Country struct {
		ISOCode string `maxminddb:"iso_code"`
	} `maxminddb:"country"`
}

// NewResolver opens dbPath. An empty or unreadable path yields a resolver
// whose lookups always return nil.
func NewResolver(dbPath string) *Resolver {
	if dbPath == "" {
		return &Resolver{}
	}
	db, err := maxminddb.Open(dbPath)
	if err != nil {
		log.Printf("geoip: failed to open %s: %v", dbPath, err)
		return &Resolver{}
	}
	return &Resolver{db: db}
}

func (r *Resolver) Enabled() bool {
	return r.db != nil
}

func (r *Resolver) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Lookup returns nil for unparseable, private, loopback and unknown addresses.
func (r *Resolver) Lookup(addr string) *models.GeoResult {
	ip := net.ParseIP(addr)
	if ip == nil || r.db == nil || ip.IsPrivate() || ip.IsLoopback() || ip.IsUnspecified() {
		return nil
	}
	var record mmdbRecord
	if err := r.db.Lookup(ip, &record); err != nil {
		return nil
	}
	if record.City.Names["en"] == "" && record.Country.ISOCode == "" {
		return nil
	}
	return &models.GeoResult{
		IP:      ip.String(),
		City:    record.City.Names["en"],
		Country: record.Country.ISOCode,
	}
}
