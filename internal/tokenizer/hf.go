package tokenizer

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	sugar "github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
)

// HF is a Tokenizer backed by a HuggingFace tokenizer.json.
type HF struct {
	tk         *sugar.Tokenizer
	eos        int
	pad        int
	padFromEOS bool
}

// Specials names the special tokens of a tokenizer.
type Specials struct {
	EOS string
	PAD string
}

var (
	eosCandidates = []string{"<|eot_id|>", "<|end_of_text|>", "</s>", "[SEP]", "<eos>", "<|endoftext|>"}
	padCandidates = []string{"<pad>", "[PAD]", "<|pad|>"}
)

// LoadHF loads path, which is either a tokenizer.json file or a model
// directory containing one. Special tokens come from tokenizer_config.json
// when present and from well-known names otherwise.
func LoadHF(path string) (*HF, error) {
	file := path
	if fi, err := os.Stat(path); err == nil && fi.IsDir() {
		file = filepath.Join(path, "tokenizer.json")
	}
	tk, err := pretrained.FromFile(file)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer %s: %w", file, err)
	}
	sp, err := ReadSpecials(filepath.Join(filepath.Dir(file), "tokenizer_config.json"))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	h := &HF{tk: tk}
	h.eos, h.pad, h.padFromEOS, err = resolveSpecials(h.TokenID, sp)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", file, err)
	}
	return h, nil
}

// resolveSpecials finds EOS and PAD ids. A missing PAD is aliased to EOS.
func resolveSpecials(lookup func(string) (int, bool), sp Specials) (eos, pad int, padFromEOS bool, err error) {
	eos, ok := lookupFirst(lookup, sp.EOS, eosCandidates)
	if !ok {
		return 0, 0, false, errors.New("tokenizer has no end-of-sequence token")
	}
	pad, ok = lookupFirst(lookup, sp.PAD, padCandidates)
	if !ok {
		return eos, eos, true, nil
	}
	return eos, pad, false, nil
}

func lookupFirst(lookup func(string) (int, bool), preferred string, candidates []string) (int, bool) {
	if preferred != "" {
		if id, ok := lookup(preferred); ok {
			return id, true
		}
	}
	for _, c := range candidates {
		if id, ok := lookup(c); ok {
			return id, true
		}
	}
	return 0, false
}

func (h *HF) Encode(text string, addSpecial bool) ([]int, error) {
	enc, err := h.tk.EncodeSingle(text, addSpecial)
	if err != nil {
		return nil, err
	}
	return append([]int(nil), enc.Ids...), nil
}

func (h *HF) Decode(ids []int, skipSpecial bool) string { return h.tk.Decode(ids, skipSpecial) }

func (h *HF) TokenID(token string) (int, bool) { return h.tk.TokenToId(token) }

func (h *HF) EOS() int { return h.eos }

func (h *HF) PAD() int { return h.pad }

// PadFromEOS reports whether PAD was aliased to EOS.
func (h *HF) PadFromEOS() bool { return h.padFromEOS }

// ReadSpecials parses eos_token and pad_token from a tokenizer_config.json.
// Values may be plain strings or {"content": "..."} objects.
func ReadSpecials(path string) (Specials, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Specials{}, err
	}
	var raw struct {
		EOS json.RawMessage `json:"eos_token"`
		PAD json.RawMessage `json:"pad_token"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return Specials{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return Specials{EOS: tokenContent(raw.EOS), PAD: tokenContent(raw.PAD)}, nil
}

func tokenContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var obj struct {
		Content string `json:"content"`
	}
	if json.Unmarshal(raw, &obj) == nil {
		return obj.Content
	}
	return ""
}
