package parse

import (
	"errors"
	"testing"
)

type ballot struct {
	Ranking []string `json:"ranking"`
}

func TestObjectPlainJSON(t *testing.T) {
	var b ballot
	if err := Object(`{"ranking": ["a", "b"]}`, &b); err != nil {
		t.Fatal(err)
	}
	if len(b.Ranking) != 2 || b.Ranking[0] != "a" {
		t.Fatalf("unexpected: %+v", b)
	}
}

func TestObjectFencedBlock(t *testing.T) {
	text := "Here is my ranking:\n```json\n{\"ranking\": [\"x\"]}\n```\nHope that helps."
	var b ballot
	if err := Object(text, &b); err != nil {
		t.Fatal(err)
	}
	if len(b.Ranking) != 1 || b.Ranking[0] != "x" {
		t.Fatalf("unexpected: %+v", b)
	}
}

func TestObjectEmbeddedBraces(t *testing.T) {
	text := `After careful thought, my answer is {"ranking": ["y", "z"]} as shown.`
	var b ballot
	if err := Object(text, &b); err != nil {
		t.Fatal(err)
	}
	if b.Ranking[1] != "z" {
		t.Fatalf("unexpected: %+v", b)
	}
}

func TestObjectNoJSON(t *testing.T) {
	var b ballot
	err := Object("I refuse to answer in JSON.", &b)
	if !errors.Is(err, ErrNoJSON) {
		t.Fatalf("expected ErrNoJSON, got %v", err)
	}
}

func TestStringList(t *testing.T) {
	items, err := StringList(`{"options": ["one", " ", "two"]}`, "options")
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 || items[1] != "two" {
		t.Fatalf("unexpected: %v", items)
	}

	if _, err := StringList(`{"other": []}`, "options"); err == nil {
		t.Fatal("expected missing field error")
	}
}
