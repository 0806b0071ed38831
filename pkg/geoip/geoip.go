// Package geoip wraps an optional IP2Location-format database used to
// resolve an admitted connection's remote address to a rough location for
// pkg/metricsx's admission geo counter. With no database loaded, lookups
// simply fail closed; geolocation is a diagnostic nicety, never a
// correctness requirement.
package geoip

import (
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"sync"

	"github.com/pg9182/ip2x"
)

// DB wraps a file-backed IP2Location database that can be hot-reloaded
// (e.g. on SIGHUP) without disrupting concurrent lookups.
type DB struct {
	mu   sync.RWMutex
	file *os.File
	db   *ip2x.DB
}

// Load replaces the currently loaded database with the one at name. If name
// is empty, the existing database, if any, is reopened from its original
// path (picking up an in-place update).
func (d *DB) Load(name string) error {
	d.mu.RLock()
	if name == "" {
		if d.file == nil {
			d.mu.RUnlock()
			return fmt.Errorf("geoip: no database loaded")
		}
		name = d.file.Name()
	}
	d.mu.RUnlock()

	f, err := os.Open(name)
	if err != nil {
		return err
	}

	db, err := ip2x.New(f)
	if err != nil {
		f.Close()
		return err
	}
	if p, _ := db.Info(); p != ip2x.IP2Location {
		f.Close()
		return fmt.Errorf("geoip: not an ip2location database")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file != nil {
		d.file.Close()
	}
	d.file = f
	d.db = db
	return nil
}

// Location is the resolved position of an address, if any.
type Location struct {
	Lat, Lng float64
}

// Lookup resolves addr's approximate latitude/longitude. ok is false if no
// database is loaded or the address isn't in it.
func (d *DB) Lookup(addr netip.Addr) (loc Location, ok bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.db == nil {
		return Location{}, false
	}
	rec, err := d.db.Lookup(addr)
	if err != nil {
		return Location{}, false
	}
	latStr, latOK := rec.GetString(ip2x.Latitude)
	lngStr, lngOK := rec.GetString(ip2x.Longitude)
	if !latOK || !lngOK {
		return Location{}, false
	}
	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil {
		return Location{}, false
	}
	lng, err := strconv.ParseFloat(lngStr, 64)
	if err != nil {
		return Location{}, false
	}
	return Location{Lat: lat, Lng: lng}, true
}

// Loaded reports whether a database is currently available for lookups.
func (d *DB) Loaded() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.db != nil
}
