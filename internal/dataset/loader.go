package dataset

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Corpus holds the three partitions of labeled examples, loaded once before
// training starts. Test may be empty.
type Corpus struct {
	Train []LabeledExample
	Dev   []LabeledExample
	Test  []LabeledExample
}

// LoadCorpus reads train.jsonl, dev.jsonl and, when present, test.jsonl
// from dir.
func LoadCorpus(dir string) (*Corpus, error) {
	train, err := loadSplit(filepath.Join(dir, "train.jsonl"))
	if err != nil {
		return nil, err
	}
	dev, err := loadSplit(filepath.Join(dir, "dev.jsonl"))
	if err != nil {
		return nil, err
	}
	test, err := loadSplit(filepath.Join(dir, "test.jsonl"))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		test = nil
	}
	if len(train) == 0 {
		return nil, fmt.Errorf("load corpus: no training examples under %s", dir)
	}
	if len(dev) == 0 {
		return nil, fmt.Errorf("load corpus: no dev examples under %s", dir)
	}
	return &Corpus{Train: train, Dev: dev, Test: test}, nil
}

// TestExamples returns the test partition, falling back to the dev partition
// when no test samples exist so evaluation always has data.
func (c *Corpus) TestExamples() []LabeledExample {
	if len(c.Test) == 0 {
		return c.Dev
	}
	return c.Test
}

func loadSplit(path string) ([]LabeledExample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open split: %w", err)
	}
	defer f.Close()

	var out []LabeledExample
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ex LabeledExample
		if err := json.Unmarshal(line, &ex); err != nil {
			return nil, fmt.Errorf("parse %s line %d: %w", filepath.Base(path), lineNo, err)
		}
		out = append(out, ex)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	return out, nil
}
