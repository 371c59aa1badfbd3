package subscriptions

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"dmvwatch/pkg/logx"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "subscriptions.json")
	return Open(path, logx.Nop()), path
}

func TestSetReplacesAndDeduplicates(t *testing.T) {
	s, _ := openTestStore(t)

	if err := s.Set("a@example.com", []string{"Durham", "Cary", "Durham"}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got := s.OfficesFor("a@example.com")
	want := []string{"Cary", "Durham"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("OfficesFor = %v, want %v", got, want)
	}

	// A second Set fully replaces the previous office set, no merge.
	if err := s.Set("a@example.com", []string{"Raleigh"}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got = s.OfficesFor("a@example.com")
	if !reflect.DeepEqual(got, []string{"Raleigh"}) {
		t.Fatalf("overwrite kept old offices: %v", got)
	}
}

func TestEmailsForFanOut(t *testing.T) {
	s, _ := openTestStore(t)
	_ = s.Set("b@example.com", []string{"Cary"})
	_ = s.Set("a@example.com", []string{"Cary", "Durham"})
	_ = s.Set("c@example.com", []string{"Durham"})

	got := s.EmailsFor("Cary")
	want := []string{"a@example.com", "b@example.com"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("EmailsFor(Cary) = %v, want %v", got, want)
	}
	if got := s.EmailsFor("Asheville"); len(got) != 0 {
		t.Fatalf("EmailsFor(unknown office) = %v, want empty", got)
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	s, _ := openTestStore(t)
	_ = s.Set("a@example.com", []string{"Cary"})

	if err := s.Remove("a@example.com"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if got := s.Emails(); len(got) != 0 {
		t.Fatalf("Emails after remove = %v", got)
	}
	// Removing an unknown email is a no-op, not an error.
	if err := s.Remove("nobody@example.com"); err != nil {
		t.Fatalf("Remove unknown: %v", err)
	}
}

func TestPersistenceAcrossReopen(t *testing.T) {
	s, path := openTestStore(t)
	_ = s.Set("a@example.com", []string{"Cary"})

	reopened := Open(path, logx.Nop())
	if got := reopened.OfficesFor("a@example.com"); !reflect.DeepEqual(got, []string{"Cary"}) {
		t.Fatalf("reopened store lost data: %v", got)
	}
}

func TestCorruptFileFailsOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subscriptions.json")
	if err := os.WriteFile(path, []byte("[1,2,3"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	s := Open(path, logx.Nop())
	if got := s.Emails(); len(got) != 0 {
		t.Fatalf("corrupt file should load empty, got %v", got)
	}
	if err := s.Set("a@example.com", []string{"Cary"}); err != nil {
		t.Fatalf("Set after corrupt load: %v", err)
	}
}
