package onnx

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"clinicd/internal/common/fsutil"
)

// ModelConfig is the subset of a HuggingFace config.json (plus
// generation_config.json) the service needs.
type ModelConfig struct {
	ModelType           string
	ID2Label            []string
	EOSTokenID          int
	PadTokenID          int
	DecoderStartTokenID int
	Summarization       SummarizationParams
}

// SummarizationParams come from task_specific_params.summarization.
type SummarizationParams struct {
	Prefix            string  `json:"prefix"`
	NumBeams          int     `json:"num_beams"`
	MinLength         int     `json:"min_length"`
	MaxLength         int     `json:"max_length"`
	LengthPenalty     float64 `json:"length_penalty"`
	NoRepeatNgramSize int     `json:"no_repeat_ngram_size"`
	EarlyStopping     bool    `json:"early_stopping"`
}

type rawConfig struct {
	ModelType           string            `json:"model_type"`
	ID2Label            map[string]string `json:"id2label"`
	EOSTokenID          any               `json:"eos_token_id"`
	PadTokenID          any               `json:"pad_token_id"`
	DecoderStartTokenID *int              `json:"decoder_start_token_id"`
	TaskSpecificParams  struct {
		Summarization *SummarizationParams `json:"summarization"`
	} `json:"task_specific_params"`
}

type rawGenerationConfig struct {
	EOSTokenID          any  `json:"eos_token_id"`
	PadTokenID          any  `json:"pad_token_id"`
	DecoderStartTokenID *int `json:"decoder_start_token_id"`
}

// LoadModelConfig reads dir/config.json and overlays dir/generation_config.json
// when present.
func LoadModelConfig(dir string) (ModelConfig, error) {
	var raw rawConfig
	b, err := os.ReadFile(filepath.Join(dir, "config.json"))
	if err != nil {
		return ModelConfig{}, fmt.Errorf("reading config.json: %w", err)
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return ModelConfig{}, fmt.Errorf("parsing config.json: %w", err)
	}
	cfg := ModelConfig{
		ModelType:  raw.ModelType,
		EOSTokenID: firstTokenID(raw.EOSTokenID, 1),
		PadTokenID: firstTokenID(raw.PadTokenID, 0),
	}
	cfg.DecoderStartTokenID = cfg.PadTokenID
	if raw.DecoderStartTokenID != nil {
		cfg.DecoderStartTokenID = *raw.DecoderStartTokenID
	}
	if raw.TaskSpecificParams.Summarization != nil {
		cfg.Summarization = *raw.TaskSpecificParams.Summarization
	}
	cfg.ID2Label, err = orderedLabels(raw.ID2Label)
	if err != nil {
		return ModelConfig{}, err
	}

	if gb, err := os.ReadFile(filepath.Join(dir, "generation_config.json")); err == nil {
		var gen rawGenerationConfig
		if err := json.Unmarshal(gb, &gen); err != nil {
			return ModelConfig{}, fmt.Errorf("parsing generation_config.json: %w", err)
		}
		if gen.EOSTokenID != nil {
			cfg.EOSTokenID = firstTokenID(gen.EOSTokenID, cfg.EOSTokenID)
		}
		if gen.PadTokenID != nil {
			cfg.PadTokenID = firstTokenID(gen.PadTokenID, cfg.PadTokenID)
		}
		if gen.DecoderStartTokenID != nil {
			cfg.DecoderStartTokenID = *gen.DecoderStartTokenID
		}
	}
	return cfg, nil
}

// firstTokenID accepts an int, a list of ints (first wins) or null.
func firstTokenID(v any, def int) int {
	switch t := v.(type) {
	case float64:
		return int(t)
	case []any:
		if len(t) > 0 {
			if f, ok := t[0].(float64); ok {
				return int(f)
			}
		}
	}
	return def
}

func orderedLabels(m map[string]string) ([]string, error) {
	if len(m) == 0 {
		return nil, nil
	}
	idx := make([]int, 0, len(m))
	byIdx := make(map[int]string, len(m))
	for k, v := range m {
		i, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("id2label: non-numeric key %q", k)
		}
		idx = append(idx, i)
		byIdx[i] = v
	}
	sort.Ints(idx)
	out := make([]string, len(idx))
	for pos, i := range idx {
		if i != pos {
			return nil, fmt.Errorf("id2label: missing index %d", pos)
		}
		out[pos] = byIdx[i]
	}
	return out, nil
}

// FindONNXFile returns the first candidate present in dir, or "".
func FindONNXFile(dir string, candidates []string) string {
	for _, name := range candidates {
		if p := filepath.Join(dir, name); fsutil.IsFile(p) {
			return p
		}
		if p := filepath.Join(dir, "onnx", name); fsutil.IsFile(p) {
			return p
		}
	}
	return ""
}

var (
	classifierFiles = []string{"model.onnx", "model_quantized.onnx"}
	encoderFiles    = []string{"encoder_model.onnx", "encoder.onnx"}
	decoderFiles    = []string{"decoder_model.onnx", "decoder.onnx"}
)

// CheckClassifierDir reports the first artifact missing from a classifier directory.
func CheckClassifierDir(dir string) error {
	if FindONNXFile(dir, classifierFiles) == "" {
		return fmt.Errorf("%s: no classifier graph (%v)", dir, classifierFiles)
	}
	return checkTokenizerFile(dir)
}

// CheckSeq2SeqDir reports the first artifact missing from a seq2seq directory.
func CheckSeq2SeqDir(dir string) error {
	if FindONNXFile(dir, encoderFiles) == "" {
		return fmt.Errorf("%s: no encoder graph (%v)", dir, encoderFiles)
	}
	if FindONNXFile(dir, decoderFiles) == "" {
		return fmt.Errorf("%s: no decoder graph (%v)", dir, decoderFiles)
	}
	if _, err := os.Stat(filepath.Join(dir, "config.json")); err != nil {
		return fmt.Errorf("%s: %w", dir, err)
	}
	return checkTokenizerFile(dir)
}

func checkTokenizerFile(dir string) error {
	if _, err := os.Stat(filepath.Join(dir, "tokenizer.json")); err != nil {
		return fmt.Errorf("%s: %w", dir, err)
	}
	return nil
}
