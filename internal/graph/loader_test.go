package graph

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/BMeu/crgp/internal/domain"
)

func TestLoadTextFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "friends.txt")
	content := "1:2,3,4\n2:1\n3:\nnotanumber:1,2\n4:1,notanumber,3\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	out := make(chan Record, 16)
	stats, err := Load(path, Options{}, out)
	close(out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	records := map[domain.UID]Record{}
	for rec := range out {
		records[rec.User] = rec
	}

	if stats.UsersLoaded != 4 {
		t.Errorf("UsersLoaded = %d, want 4", stats.UsersLoaded)
	}
	if stats.UnparseableUIDs != 2 {
		t.Errorf("UnparseableUIDs = %d, want 2 (one bad owner UID, one bad friend UID)", stats.UnparseableUIDs)
	}

	rec, ok := records[1]
	if !ok {
		t.Fatalf("missing record for user 1")
	}
	if len(rec.Friends) != 3 || !rec.Friends.Has(2) || !rec.Friends.Has(3) || !rec.Friends.Has(4) {
		t.Errorf("unexpected friends for user 1: %v", rec.Friends)
	}

	if rec, ok := records[3]; !ok || len(rec.Friends) != 0 {
		t.Errorf("user 3 should have an empty friend set, got %v", rec.Friends)
	}
}

func TestLoadMissingRootIsFatal(t *testing.T) {
	out := make(chan Record, 1)
	if _, err := Load(filepath.Join(t.TempDir(), "missing"), Options{}, out); err == nil {
		t.Errorf("expected an error for a missing root path")
	}
}

func TestParseCSVBodyWithHeader(t *testing.T) {
	stats := &Stats{}
	body := []byte("Alice;42;100;2;5\n1\n2\n")
	rec := parseCSVBody(42, body, Options{}, stats)
	if len(rec.Friends) != 2 || !rec.Friends.Has(1) || !rec.Friends.Has(2) {
		t.Errorf("unexpected friends: %v", rec.Friends)
	}
}

func TestParseCSVBodyPadsToDeclaredCount(t *testing.T) {
	stats := &Stats{}
	body := []byte("Alice;42;100;5;5\n1\n2\n")
	rec := parseCSVBody(42, body, Options{PadUsers: true}, stats)
	if len(rec.Friends) != 5 {
		t.Errorf("len(Friends) = %d, want 5 after padding", len(rec.Friends))
	}
	if stats.PaddedUsers != 1 || stats.PaddedSlots != 3 {
		t.Errorf("unexpected padding stats: %+v", stats)
	}
}

func TestFriendsFilenameUID(t *testing.T) {
	cases := map[string]domain.UID{
		"friends42.csv":       42,
		"/a/b/friends100.csv": 100,
	}
	for name, want := range cases {
		got, ok := friendsFilenameUID(name)
		if !ok || got != want {
			t.Errorf("friendsFilenameUID(%q) = (%d, %v), want (%d, true)", name, got, ok, want)
		}
	}

	if _, ok := friendsFilenameUID("not-a-friends-file.csv"); ok {
		t.Errorf("expected ok=false for a non-matching filename")
	}
}
