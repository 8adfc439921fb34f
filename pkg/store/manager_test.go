package store

import (
	"path/filepath"
	"testing"
)

func TestMultiStore_GetRejectsInvalidReplicaID(t *testing.T) {
	ms := NewMultiStore(t.TempDir())

	cases := []string{
		"",
		" ",
		".",
		"..",
		"../escape",
		"replica/a",
		`replica\b`,
		"replica:bad",
		filepath.Join(t.TempDir(), "abs"),
	}

	for _, id := range cases {
		if _, err := ms.Get(id); err == nil {
			t.Fatalf("expected replica id %q to be rejected", id)
		}
	}
}

func TestMultiStore_CloseRejectsInvalidReplicaID(t *testing.T) {
	ms := NewMultiStore(t.TempDir())

	if err := ms.Close("../escape"); err == nil {
		t.Fatal("expected Close to reject traversal replica id")
	}
}

func TestMultiStore_GetReusesOpenStore(t *testing.T) {
	ms := NewMultiStore(t.TempDir())
	defer ms.CloseAll()

	a1, err := ms.Get("replica-a")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	a2, err := ms.Get("replica-a")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if a1 != a2 {
		t.Fatal("expected the same store for the same replica")
	}

	b, err := ms.Get("replica-b")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if b == a1 {
		t.Fatal("expected different replicas to get different stores")
	}

	if err := ms.Close("replica-a"); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if err := ms.Close("replica-a"); err != nil {
		t.Fatalf("closing an already closed replica should be a no-op: %v", err)
	}
}
