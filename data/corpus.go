package data

import (
	"bufio"
	"errors"
	"os"
	"strings"

	"github.com/unixpickle/essentials"
)

// A Pair is one tokenized source/target sentence pair.
type Pair struct {
	Source []string
	Target []string
}

// ReadCorpus reads a parallel corpus from two aligned
// text files, one whitespace-tokenized sentence per line.
//
// Pairs with an empty side or with more than maxLen
// tokens on either side are skipped; the count of skipped
// pairs is returned alongside the kept ones.
func ReadCorpus(srcPath, tgtPath string, maxLen int) ([]Pair, int, error) {
	srcLines, err := ReadLines(srcPath)
	if err != nil {
		return nil, 0, essentials.AddCtx("read corpus", err)
	}
	tgtLines, err := ReadLines(tgtPath)
	if err != nil {
		return nil, 0, essentials.AddCtx("read corpus", err)
	}
	if len(srcLines) != len(tgtLines) {
		return nil, 0, errors.New("read corpus: source and target line " +
			"counts differ")
	}
	var pairs []Pair
	var skipped int
	for i, line := range srcLines {
		src := strings.Fields(line)
		tgt := strings.Fields(tgtLines[i])
		if len(src) == 0 || len(tgt) == 0 ||
			len(src) > maxLen || len(tgt) > maxLen {
			skipped++
			continue
		}
		pairs = append(pairs, Pair{Source: src, Target: tgt})
	}
	return pairs, skipped, nil
}

// ReadLines reads every line of a text file.
func ReadLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var res []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1<<20), 1<<20)
	for scanner.Scan() {
		res = append(res, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return res, nil
}
