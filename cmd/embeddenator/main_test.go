package main

import "testing"

func TestSplitPathEqualsFile(t *testing.T) {
	path, data, err := splitPathEqualsFile("a/b.txt=/tmp/b.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != "a/b.txt" || data != "/tmp/b.txt" {
		t.Fatalf("got (%q, %q)", path, data)
	}
}

func TestSplitPathEqualsFileRejectsMissingEquals(t *testing.T) {
	if _, _, err := splitPathEqualsFile("no-equals-sign"); err == nil {
		t.Fatal("expected an error for a missing '='")
	}
}
