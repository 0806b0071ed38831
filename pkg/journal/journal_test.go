package journal

import (
	"net/netip"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func TestOpenMigratesToLatestVersion(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	cur, tgt, err := db.Version()
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if cur != tgt {
		t.Fatalf("current version %d, want %d (migration on Open didn't run)", cur, tgt)
	}
}

func TestRecordAndRecentDisconnects(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	remote := netip.MustParseAddrPort("203.0.113.7:7777")
	base := time.UnixMilli(1700000000000)

	for i, reason := range []string{"pings_without_response", "reliable_packet_without_response", "socket_receive_failure"} {
		e := Entry{
			Time:   base.Add(time.Duration(i) * time.Second),
			Remote: remote,
			GUID:   uint64(1000 + i),
			Reason: reason,
		}
		if err := db.RecordDisconnect(e); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}

	entries, err := db.RecentDisconnects(2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Reason != "socket_receive_failure" {
		t.Fatalf("newest entry reason = %q, want socket_receive_failure", entries[0].Reason)
	}
	if entries[0].GUID != 1002 {
		t.Fatalf("newest entry guid = %d, want 1002", entries[0].GUID)
	}
	if entries[0].Remote != remote {
		t.Fatalf("remote = %v, want %v", entries[0].Remote, remote)
	}
}

func TestNilDBRecordAndQueryAreNoops(t *testing.T) {
	var db *DB
	if err := db.RecordDisconnect(Entry{Reason: "graceful"}); err != nil {
		t.Fatalf("nil RecordDisconnect: %v", err)
	}
	entries, err := db.RecentDisconnects(10)
	if err != nil {
		t.Fatalf("nil RecentDisconnects: %v", err)
	}
	if entries != nil {
		t.Fatalf("expected nil entries, got %v", entries)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("nil Close: %v", err)
	}
}
