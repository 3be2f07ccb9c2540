// Package data loads parallel text corpora and assembles
// the padded batches that training and scoring consume.
package data

import (
	"bufio"
	"errors"
	"os"
	"sort"

	"github.com/unixpickle/essentials"
	"github.com/unixpickle/seq2seq"
)

// Words for the reserved token ids.
const (
	PadWord = "<blank>"
	UnkWord = "<unk>"
	BosWord = "<s>"
	EosWord = "</s>"
)

// A Dict maps words to contiguous token ids.
//
// The first four ids are always the reserved padding,
// unknown, start-of-sequence, and end-of-sequence tokens.
type Dict struct {
	words []string
	ids   map[string]int
}

// NewDict creates a Dict containing only the reserved
// tokens.
func NewDict() *Dict {
	d := &Dict{ids: map[string]int{}}
	for _, w := range []string{PadWord, UnkWord, BosWord, EosWord} {
		d.Add(w)
	}
	return d
}

// BuildDict creates a Dict from tokenized sentences,
// keeping at most maxSize of the most frequent words.
//
// Ties are broken by order of first appearance, so the
// result is deterministic.
func BuildDict(sentences [][]string, maxSize int) *Dict {
	counts := map[string]int{}
	var order []string
	for _, sent := range sentences {
		for _, w := range sent {
			if counts[w] == 0 {
				order = append(order, w)
			}
			counts[w]++
		}
	}
	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})
	d := NewDict()
	for _, w := range order {
		if d.Size() >= maxSize {
			break
		}
		d.Add(w)
	}
	return d
}

// LoadDict reads a Dict from a file with one word per
// line, where the line number is the word's id.
func LoadDict(path string) (*Dict, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, essentials.AddCtx("load dictionary", err)
	}
	defer f.Close()
	d := &Dict{ids: map[string]int{}}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		d.Add(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, essentials.AddCtx("load dictionary", err)
	}
	if d.Size() < 4 || d.words[seq2seq.PadToken] != PadWord ||
		d.words[seq2seq.UnkToken] != UnkWord ||
		d.words[seq2seq.BosToken] != BosWord ||
		d.words[seq2seq.EosToken] != EosWord {
		return nil, errors.New("load dictionary: missing reserved tokens")
	}
	return d, nil
}

// Save writes the Dict with one word per line.
func (d *Dict) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return essentials.AddCtx("save dictionary", err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	for _, word := range d.words {
		if _, err := w.WriteString(word + "\n"); err != nil {
			return essentials.AddCtx("save dictionary", err)
		}
	}
	if err := w.Flush(); err != nil {
		return essentials.AddCtx("save dictionary", err)
	}
	return nil
}

// Add inserts a word if it is not already present and
// returns its id.
func (d *Dict) Add(word string) int {
	if id, ok := d.ids[word]; ok {
		return id
	}
	id := len(d.words)
	d.words = append(d.words, word)
	d.ids[word] = id
	return id
}

// ID returns the id of a word, or the unknown-token id
// for words not in the Dict.
func (d *Dict) ID(word string) int {
	if id, ok := d.ids[word]; ok {
		return id
	}
	return seq2seq.UnkToken
}

// IDs maps a tokenized sentence to token ids.
func (d *Dict) IDs(words []string) []int {
	res := make([]int, len(words))
	for i, w := range words {
		res[i] = d.ID(w)
	}
	return res
}

// Word returns the word for an id.
func (d *Dict) Word(id int) string {
	if id < 0 || id >= len(d.words) {
		panic("token id out of range")
	}
	return d.words[id]
}

// Words maps token ids back to words.
func (d *Dict) Words(ids []int) []string {
	res := make([]string, len(ids))
	for i, id := range ids {
		res[i] = d.Word(id)
	}
	return res
}

// Size returns the number of words, including the
// reserved tokens.
func (d *Dict) Size() int {
	return len(d.words)
}
