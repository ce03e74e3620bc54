// Package registry finds model artifacts under a models directory.
//
// Expected layout (every part optional):
//
//	models/
//	  classifier/        model.onnx, tokenizer.json, config.json
//	  summarizer/        encoder_model.onnx, decoder_model.onnx, ...
//	  generator/*.gguf   full-precision and quantized weights, tokenizer.json
//	  *.gguf             accepted at the top level too
//
// GGUF files with "lora" or "adapter" in their name are adapters.
package registry

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"clinicd/internal/common/fsutil"
	"clinicd/internal/config"
	"clinicd/internal/onnx"
	"clinicd/pkg/types"
)

// Artifact kinds.
const (
	KindClassifier = "classifier"
	KindSummarizer = "summarizer"
	KindGenerator  = "generator"
	KindAdapter    = "adapter"
)

var quantSuffix = regexp.MustCompile(`(?i)[._-](i?q[1-8](?:_[0-9a-z]+)*|f16|bf16|f32)\.gguf$`)

// QuantOf returns the quantization tag in a GGUF file name ("Q4_K_M",
// "F16"), or "" when there is none.
func QuantOf(name string) string {
	m := quantSuffix.FindStringSubmatch(name)
	if m == nil {
		return ""
	}
	return strings.ToUpper(m[1])
}

// FourBit reports whether quant is a 4-bit variant.
func FourBit(quant string) bool {
	q := strings.ToUpper(quant)
	return strings.HasPrefix(q, "Q4") || strings.HasPrefix(q, "IQ4")
}

// Discover scans dir and returns the artifacts found, classifier and
// summarizer first, then GGUF files by name.
func Discover(dir string) ([]types.Artifact, error) {
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	if _, err := os.ReadDir(abs); err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}

	var out []types.Artifact
	if p := filepath.Join(abs, KindClassifier); onnx.CheckClassifierDir(p) == nil {
		out = append(out, types.Artifact{Kind: KindClassifier, Name: KindClassifier, Path: p, SizeBytes: fsutil.Size(p)})
	}
	if p := filepath.Join(abs, KindSummarizer); onnx.CheckSeq2SeqDir(p) == nil {
		out = append(out, types.Artifact{Kind: KindSummarizer, Name: KindSummarizer, Path: p, SizeBytes: fsutil.Size(p)})
	}

	var ggufs []types.Artifact
	for _, d := range []string{abs, filepath.Join(abs, KindGenerator)} {
		entries, err := os.ReadDir(d)
		if err != nil {
			continue
		}
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() || !strings.HasSuffix(strings.ToLower(name), ".gguf") {
				continue
			}
			a := types.Artifact{Kind: KindGenerator, Name: name, Path: filepath.Join(d, name), Quant: QuantOf(name)}
			if lower := strings.ToLower(name); strings.Contains(lower, "lora") || strings.Contains(lower, "adapter") {
				a.Kind = KindAdapter
			}
			if info, err := e.Info(); err == nil {
				a.SizeBytes = info.Size()
			}
			ggufs = append(ggufs, a)
		}
	}
	sort.SliceStable(ggufs, func(i, j int) bool { return ggufs[i].Name < ggufs[j].Name })
	return append(out, ggufs...), nil
}

// Fill sets artifact paths left empty in c from what Discover finds under
// c.ModelsDir. Configured paths are never overwritten. A missing models
// directory is not an error.
func Fill(c *config.Config) ([]types.Artifact, error) {
	if strings.TrimSpace(c.ModelsDir) == "" {
		return nil, nil
	}
	arts, err := Discover(c.ModelsDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var full, quant, anyGen, adapter string
	for _, a := range arts {
		switch a.Kind {
		case KindClassifier:
			setIfEmpty(&c.Classifier.Path, a.Path)
		case KindSummarizer:
			setIfEmpty(&c.Summarizer.Path, a.Path)
		case KindAdapter:
			setIfEmpty(&adapter, a.Path)
		case KindGenerator:
			setIfEmpty(&anyGen, a.Path)
			switch {
			case FourBit(a.Quant):
				setIfEmpty(&quant, a.Path)
			case a.Quant == "" || a.Quant == "F16" || a.Quant == "BF16" || a.Quant == "F32":
				setIfEmpty(&full, a.Path)
			}
		}
	}
	if full == "" {
		full = anyGen
	}
	setIfEmpty(&c.Generator.ModelPath, full)
	setIfEmpty(&c.Generator.QuantizedPath, quant)
	setIfEmpty(&c.Generator.AdapterPath, adapter)
	log.Debug().
		Str("models_dir", c.ModelsDir).
		Int("artifacts", len(arts)).
		Str("generator", c.Generator.ModelPath).
		Str("quantized", c.Generator.QuantizedPath).
		Msg("artifacts discovered")
	return arts, nil
}

func setIfEmpty(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}
