// Command seq2seq-train trains a translation model on a
// parallel corpus until interrupted, then saves it.
package main

import (
	"flag"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/unixpickle/anynet/anysgd"
	"github.com/unixpickle/anyvec/anyvec32"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/rip"
	"github.com/unixpickle/seq2seq"
	"github.com/unixpickle/seq2seq/data"
)

func main() {
	godotenv.Load()

	var srcPath, tgtPath string
	var valSrcPath, valTgtPath string
	var modelPath, srcDictPath, tgtDictPath string
	var vocabSize, embedSize, hiddenSize, layers, batchSize, maxLen int
	var dropout, stepSize, decay, decayAfter, clip float64
	var padLeft, noInputFeed, adam bool

	flag.StringVar(&srcPath, "src", "", "source training file")
	flag.StringVar(&tgtPath, "tgt", "", "target training file")
	flag.StringVar(&valSrcPath, "valsrc", "", "source validation file")
	flag.StringVar(&valTgtPath, "valtgt", "", "target validation file")
	flag.StringVar(&modelPath, "out", "model_out", "model output file")
	flag.StringVar(&srcDictPath, "srcdict", "src.dict", "source dictionary file")
	flag.StringVar(&tgtDictPath, "tgtdict", "tgt.dict", "target dictionary file")
	flag.IntVar(&vocabSize, "vocab", 50000, "maximum vocabulary size")
	flag.IntVar(&embedSize, "embedding", 500, "embedding size")
	flag.IntVar(&hiddenSize, "hidden", 500, "hidden layer size")
	flag.IntVar(&layers, "layers", 2, "recurrent layer count")
	flag.IntVar(&batchSize, "batch", 64, "batch size")
	flag.IntVar(&maxLen, "maxlen", 50, "maximum sentence length")
	flag.Float64Var(&dropout, "dropout", 0.3, "dropout probability")
	flag.Float64Var(&stepSize, "step", 1, "learning rate")
	flag.Float64Var(&decay, "decay", 0.5, "learning rate decay factor")
	flag.Float64Var(&decayAfter, "decayafter", 8, "epochs before decay starts")
	flag.Float64Var(&clip, "clip", 5, "gradient norm clipping threshold")
	flag.BoolVar(&padLeft, "padleft", false, "pad sources on the left")
	flag.BoolVar(&noInputFeed, "nofeed", false, "disable input feeding")
	flag.BoolVar(&adam, "adam", false, "use Adam instead of plain SGD")
	flag.Parse()

	if srcPath == "" || tgtPath == "" {
		essentials.Die("Required flags: -src and -tgt (see -help)")
	}

	pairs, skipped, err := data.ReadCorpus(srcPath, tgtPath, maxLen)
	if err != nil {
		essentials.Die(err)
	}
	if skipped > 0 {
		log.Printf("ignored %d empty or oversized pairs", skipped)
	}
	log.Printf("loaded %d sentence pairs", len(pairs))

	srcDict := loadOrBuildDict(srcDictPath, sources(pairs), vocabSize)
	tgtDict := loadOrBuildDict(tgtDictPath, targets(pairs), vocabSize)
	log.Printf("vocabulary: %d source words, %d target words", srcDict.Size(),
		tgtDict.Size())

	c := anyvec32.CurrentCreator()
	var model *seq2seq.Model
	if _, err := os.Stat(modelPath); err == nil {
		model, err = seq2seq.LoadModel(modelPath)
		if err != nil {
			essentials.Die(err)
		}
		log.Println("resuming existing model")
	} else {
		model = seq2seq.NewModel(c, seq2seq.Config{
			SourceVocab: srcDict.Size(),
			TargetVocab: tgtDict.Size(),
			EmbedSize:   embedSize,
			HiddenSize:  hiddenSize,
			Layers:      layers,
			Dropout:     dropout,
			InputFeed:   !noInputFeed,
		})
		log.Println("created new model")
	}
	model.Reserve(batchSize, maxLen, maxLen+1)
	model.SetTraining(true)

	batches := data.MakeBatches(pairs, srcDict, tgtDict, batchSize, padLeft)
	if len(batches) == 0 {
		essentials.Die("no usable sentence pairs")
	}
	var val seq2seq.BatchList
	if valSrcPath != "" && valTgtPath != "" {
		valPairs, _, err := data.ReadCorpus(valSrcPath, valTgtPath, maxLen)
		if err != nil {
			essentials.Die(err)
		}
		val = data.MakeBatches(valPairs, srcDict, tgtDict, batchSize, padLeft)
	}

	trainer := seq2seq.NewTrainer(model)
	var transformer anysgd.Transformer = &seq2seq.GradClipper{Max: clip}
	if adam {
		transformer = &seq2seq.GradClipper{Max: clip, Next: &anysgd.Adam{}}
	}

	var iter int
	endOfEpoch := func() {
		model.SetTraining(false)
		if val != nil {
			log.Printf("epoch %d: validation perplexity=%f", iter/len(batches),
				seq2seq.Perplexity(model, val))
		}
		if err := seq2seq.SaveModel(modelPath, model); err != nil {
			essentials.Die(err)
		}
		model.SetTraining(true)
	}
	sgd := &anysgd.SGD{
		Fetcher:     trainer,
		Gradienter:  trainer,
		Transformer: transformer,
		Samples:     batches,
		Rater: &seq2seq.DecayRater{
			Initial:    stepSize,
			Decay:      decay,
			DecayAfter: decayAfter,
		},
		BatchSize: 1,
		StatusFunc: func(b anysgd.Batch) {
			log.Printf("batch %d: cost=%f", iter, trainer.LastCost)
			iter++
			if iter%len(batches) == 0 {
				endOfEpoch()
			}
		},
	}

	log.Println("training; press ctrl+c to stop")
	sgd.Run(rip.NewRIP().Chan())

	model.SetTraining(false)
	if err := seq2seq.SaveModel(modelPath, model); err != nil {
		essentials.Die(err)
	}
}

func loadOrBuildDict(path string, sentences [][]string, maxSize int) *data.Dict {
	if _, err := os.Stat(path); err == nil {
		dict, err := data.LoadDict(path)
		if err != nil {
			essentials.Die(err)
		}
		return dict
	}
	dict := data.BuildDict(sentences, maxSize)
	if err := dict.Save(path); err != nil {
		essentials.Die(err)
	}
	return dict
}

func sources(pairs []data.Pair) [][]string {
	res := make([][]string, len(pairs))
	for i, p := range pairs {
		res[i] = p.Source
	}
	return res
}

func targets(pairs []data.Pair) [][]string {
	res := make([][]string, len(pairs))
	for i, p := range pairs {
		res[i] = p.Target
	}
	return res
}
