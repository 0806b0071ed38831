package geoip

import (
	"net/netip"
	"testing"
)

func TestZeroValueDBFailsClosed(t *testing.T) {
	var db DB
	if db.Loaded() {
		t.Fatalf("zero-value DB reports loaded")
	}
	if _, ok := db.Lookup(netip.MustParseAddr("203.0.113.7")); ok {
		t.Fatalf("zero-value DB returned a location")
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	var db DB
	if err := db.Load("/nonexistent/does-not-exist.bin"); err == nil {
		t.Fatalf("expected an error loading a missing file")
	}
	if db.Loaded() {
		t.Fatalf("failed Load must not leave the DB marked loaded")
	}
}

func TestLoadWithNoNameAndNothingLoadedErrors(t *testing.T) {
	var db DB
	if err := db.Load(""); err == nil {
		t.Fatalf("expected an error reloading with nothing previously loaded")
	}
}
