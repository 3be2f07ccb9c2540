// Command seq2seq-score scores sentence pairs with a
// trained model, or greedily translates source sentences.
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/seq2seq"
	"github.com/unixpickle/seq2seq/data"
)

func main() {
	godotenv.Load()

	var srcPath, tgtPath, modelPath, srcDictPath, tgtDictPath string
	var maxLen int
	var padLeft, translate bool

	flag.StringVar(&srcPath, "src", "", "source file")
	flag.StringVar(&tgtPath, "tgt", "", "target file")
	flag.StringVar(&modelPath, "model", "model_out", "model file")
	flag.StringVar(&srcDictPath, "srcdict", "src.dict", "source dictionary file")
	flag.StringVar(&tgtDictPath, "tgtdict", "tgt.dict", "target dictionary file")
	flag.IntVar(&maxLen, "maxlen", 50, "maximum translation length")
	flag.BoolVar(&padLeft, "padleft", false, "pad sources on the left")
	flag.BoolVar(&translate, "translate", false,
		"emit greedy translations instead of log likelihoods")
	flag.Parse()

	if srcPath == "" || (!translate && tgtPath == "") {
		essentials.Die("Required flags: -src and -tgt (see -help)")
	}

	model, err := seq2seq.LoadModel(modelPath)
	if err != nil {
		essentials.Die(err)
	}
	srcDict, err := data.LoadDict(srcDictPath)
	if err != nil {
		essentials.Die(err)
	}
	tgtDict, err := data.LoadDict(tgtDictPath)
	if err != nil {
		essentials.Die(err)
	}

	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()

	if translate {
		translateLines(out, model, srcDict, tgtDict, srcPath, maxLen)
	} else {
		scoreLines(out, model, srcDict, tgtDict, srcPath, tgtPath, padLeft)
	}
}

func translateLines(out *bufio.Writer, model *seq2seq.Model,
	srcDict, tgtDict *data.Dict, srcPath string, maxLen int) {
	lines, err := data.ReadLines(srcPath)
	if err != nil {
		essentials.Die(err)
	}
	srcMax := 1
	for _, line := range lines {
		srcMax = essentials.MaxInt(srcMax, len(strings.Fields(line)))
	}
	model.Reserve(1, srcMax, maxLen)
	for _, line := range lines {
		words := strings.Fields(line)
		if len(words) == 0 {
			fmt.Fprintln(out)
			continue
		}
		ids := model.Translate(srcDict.IDs(words), maxLen)
		fmt.Fprintln(out, strings.Join(tgtDict.Words(ids), " "))
	}
}

func scoreLines(out *bufio.Writer, model *seq2seq.Model,
	srcDict, tgtDict *data.Dict, srcPath, tgtPath string, padLeft bool) {
	srcLines, err := data.ReadLines(srcPath)
	if err != nil {
		essentials.Die(err)
	}
	tgtLines, err := data.ReadLines(tgtPath)
	if err != nil {
		essentials.Die(err)
	}
	if len(srcLines) != len(tgtLines) {
		essentials.Die(errors.New("source and target line counts differ"))
	}
	srcMax, tgtMax := 1, 1
	for i := range srcLines {
		srcMax = essentials.MaxInt(srcMax, len(strings.Fields(srcLines[i])))
		tgtMax = essentials.MaxInt(tgtMax, len(strings.Fields(tgtLines[i])))
	}
	model.Reserve(1, srcMax, tgtMax+1)
	var totalNLL float64
	var totalWords int
	for i := range srcLines {
		pair := data.Pair{
			Source: strings.Fields(srcLines[i]),
			Target: strings.Fields(tgtLines[i]),
		}
		if len(pair.Source) == 0 || len(pair.Target) == 0 {
			fmt.Fprintf(out, "%f\n", math.Inf(-1))
			continue
		}
		batch := data.MakeBatches([]data.Pair{pair}, srcDict, tgtDict, 1,
			padLeft)[0]
		score := model.Score(batch)[0]
		fmt.Fprintf(out, "%f\n", score)
		totalNLL -= score
		totalWords += batch.TargetWords
	}
	if totalWords > 0 {
		log.Printf("perplexity: %f", math.Exp(totalNLL/float64(totalWords)))
	}
}
