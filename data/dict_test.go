package data

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/unixpickle/seq2seq"
)

func TestDictReserved(t *testing.T) {
	d := NewDict()
	if d.Size() != 4 {
		t.Fatalf("expected 4 reserved words, got %d", d.Size())
	}
	pairs := map[string]int{
		PadWord: seq2seq.PadToken,
		UnkWord: seq2seq.UnkToken,
		BosWord: seq2seq.BosToken,
		EosWord: seq2seq.EosToken,
	}
	for word, id := range pairs {
		if d.ID(word) != id {
			t.Errorf("expected id %d for %q, got %d", id, word, d.ID(word))
		}
		if d.Word(id) != word {
			t.Errorf("expected word %q for id %d, got %q", word, id, d.Word(id))
		}
	}
	if d.ID("missing") != seq2seq.UnkToken {
		t.Errorf("expected unknown id, got %d", d.ID("missing"))
	}
}

func TestDictAdd(t *testing.T) {
	d := NewDict()
	if id := d.Add("hello"); id != 4 {
		t.Errorf("expected id 4, got %d", id)
	}
	if id := d.Add("hello"); id != 4 {
		t.Errorf("expected repeated id 4, got %d", id)
	}
	if d.Size() != 5 {
		t.Errorf("expected size 5, got %d", d.Size())
	}
	ids := d.IDs([]string{"hello", "nope"})
	if !reflect.DeepEqual(ids, []int{4, seq2seq.UnkToken}) {
		t.Errorf("unexpected ids: %v", ids)
	}
	t.Run("BadID", func(t *testing.T) {
		defer func() {
			if recover() == nil {
				t.Error("expected panic")
			}
		}()
		d.Word(5)
	})
}

func TestBuildDict(t *testing.T) {
	sentences := [][]string{
		{"the", "cat", "sat"},
		{"the", "dog", "sat"},
		{"the", "end"},
	}
	d := BuildDict(sentences, 7)
	if d.Size() != 7 {
		t.Fatalf("expected size 7, got %d", d.Size())
	}
	expected := map[string]int{"the": 4, "sat": 5, "cat": 6}
	for word, id := range expected {
		if d.ID(word) != id {
			t.Errorf("expected id %d for %q, got %d", id, word, d.ID(word))
		}
	}
	if d.ID("dog") != seq2seq.UnkToken {
		t.Errorf("expected pruned word, got id %d", d.ID("dog"))
	}

	d1 := BuildDict(sentences, 7)
	for i := 0; i < d.Size(); i++ {
		if d.Word(i) != d1.Word(i) {
			t.Fatalf("id %d: %q versus %q", i, d.Word(i), d1.Word(i))
		}
	}
}

func TestDictSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "words.dict")
	d := NewDict()
	d.Add("hello")
	d.Add("world")
	if err := d.Save(path); err != nil {
		t.Fatal(err)
	}
	d1, err := LoadDict(path)
	if err != nil {
		t.Fatal(err)
	}
	if d1.Size() != 6 {
		t.Errorf("expected size 6, got %d", d1.Size())
	}
	if d1.ID("world") != 5 {
		t.Errorf("expected id 5, got %d", d1.ID("world"))
	}
	if d1.Word(4) != "hello" {
		t.Errorf("expected word hello, got %q", d1.Word(4))
	}
}

func TestLoadDictMissingReserved(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.dict")
	if err := os.WriteFile(path, []byte("foo\nbar\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadDict(path); err == nil {
		t.Error("expected error for missing reserved tokens")
	}
}
