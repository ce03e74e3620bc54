package onnx

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestLoadModelConfig_T5(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.json", `{
		"model_type": "t5",
		"eos_token_id": 1,
		"pad_token_id": 0,
		"decoder_start_token_id": 0,
		"task_specific_params": {"summarization": {"prefix": "summarize: ", "num_beams": 4, "min_length": 30, "max_length": 200, "length_penalty": 2.0, "no_repeat_ngram_size": 3, "early_stopping": true}}
	}`)
	cfg, err := LoadModelConfig(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := ModelConfig{
		ModelType:           "t5",
		EOSTokenID:          1,
		PadTokenID:          0,
		DecoderStartTokenID: 0,
		Summarization: SummarizationParams{
			Prefix: "summarize: ", NumBeams: 4, MinLength: 30, MaxLength: 200,
			LengthPenalty: 2.0, NoRepeatNgramSize: 3, EarlyStopping: true,
		},
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadModelConfig_GenerationOverlayAndLabels(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.json", `{"model_type":"bert","id2label":{"1":"Depression","0":"BPD","2":"Anxiety"},"eos_token_id":[2,3],"pad_token_id":null}`)
	writeFile(t, dir, "generation_config.json", `{"decoder_start_token_id": 2, "pad_token_id": 5}`)
	cfg, err := LoadModelConfig(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if diff := cmp.Diff([]string{"BPD", "Depression", "Anxiety"}, cfg.ID2Label); diff != "" {
		t.Fatalf("labels (-want +got):\n%s", diff)
	}
	if cfg.EOSTokenID != 2 || cfg.PadTokenID != 5 || cfg.DecoderStartTokenID != 2 {
		t.Fatalf("unexpected ids: %+v", cfg)
	}
}

func TestLoadModelConfig_Errors(t *testing.T) {
	if _, err := LoadModelConfig(t.TempDir()); err == nil {
		t.Fatalf("expected error for missing config.json")
	}
	dir := t.TempDir()
	writeFile(t, dir, "config.json", `{"id2label":{"0":"a","2":"c"}}`)
	if _, err := LoadModelConfig(dir); err == nil {
		t.Fatalf("expected gap error")
	}
}

func TestFindONNXFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "onnx"), 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(dir, "onnx"), "decoder_model.onnx", "")
	writeFile(t, dir, "encoder_model.onnx", "")
	if got := FindONNXFile(dir, encoderFiles); got != filepath.Join(dir, "encoder_model.onnx") {
		t.Fatalf("encoder=%q", got)
	}
	if got := FindONNXFile(dir, decoderFiles); got != filepath.Join(dir, "onnx", "decoder_model.onnx") {
		t.Fatalf("decoder=%q", got)
	}
	if got := FindONNXFile(dir, classifierFiles); got != "" {
		t.Fatalf("classifier=%q", got)
	}
}

func TestPadBatchAndTile(t *testing.T) {
	ids, mask, seq := padBatch([][]int{{5, 6, 7}, {8}}, 0)
	if seq != 3 {
		t.Fatalf("seq=%d", seq)
	}
	if diff := cmp.Diff([]int64{5, 6, 7, 8, 0, 0}, ids); diff != "" {
		t.Fatalf("ids:\n%s", diff)
	}
	if diff := cmp.Diff([]int64{1, 1, 1, 1, 0, 0}, mask); diff != "" {
		t.Fatalf("mask:\n%s", diff)
	}

	enc := &EncoderState{Hidden: []float32{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}, Batch: 2, Seq: 3, Dim: 2, Mask: mask}
	hidden, tm := tileRows(enc, []int{1, 1, 0})
	if diff := cmp.Diff([]float32{7, 8, 9, 10, 11, 12, 7, 8, 9, 10, 11, 12, 1, 2, 3, 4, 5, 6}, hidden); diff != "" {
		t.Fatalf("hidden:\n%s", diff)
	}
	if diff := cmp.Diff([]int64{1, 0, 0, 1, 0, 0, 1, 1, 1}, tm); diff != "" {
		t.Fatalf("mask:\n%s", diff)
	}
}

func TestCheckDirs(t *testing.T) {
	dir := t.TempDir()
	if err := CheckClassifierDir(dir); err == nil {
		t.Fatal("expected missing graph error")
	}
	writeFile(t, dir, "model.onnx", "")
	if err := CheckClassifierDir(dir); err == nil {
		t.Fatal("expected missing tokenizer error")
	}
	writeFile(t, dir, "tokenizer.json", "{}")
	if err := CheckClassifierDir(dir); err != nil {
		t.Fatalf("classifier dir: %v", err)
	}

	s2s := t.TempDir()
	writeFile(t, s2s, "encoder_model.onnx", "")
	if err := CheckSeq2SeqDir(s2s); err == nil {
		t.Fatal("expected missing decoder error")
	}
	writeFile(t, s2s, "decoder_model.onnx", "")
	writeFile(t, s2s, "tokenizer.json", "{}")
	if err := CheckSeq2SeqDir(s2s); err == nil {
		t.Fatal("expected missing config.json error")
	}
	writeFile(t, s2s, "config.json", "{}")
	if err := CheckSeq2SeqDir(s2s); err != nil {
		t.Fatalf("seq2seq dir: %v", err)
	}
}
