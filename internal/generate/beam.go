package generate

import (
	"context"
	"errors"
	"math"
	"sort"
)

// StepFunc returns next-token logits for each prefix. All prefixes have the
// same length and start with the decoder start token.
type StepFunc func(ctx context.Context, prefixes [][]int) ([][]float32, error)

// BeamParams configure BeamSearch. Lengths count generated tokens, excluding
// the decoder start token and the final EOS.
type BeamParams struct {
	NumBeams      int
	MinLength     int
	MaxLength     int
	DecoderStart  int
	EOS           int
	LengthPenalty float64
	NoRepeatNgram int
	EarlyStopping bool
}

type hypothesis struct {
	tokens []int // includes the decoder start token
	score  float64
}

type candidate struct {
	beam  int
	token int
	score float64
}

// BeamSearch decodes the most likely sequence under p and returns the
// generated ids without the decoder start token or EOS.
func BeamSearch(ctx context.Context, step StepFunc, p BeamParams) ([]int, error) {
	if p.NumBeams <= 0 {
		p.NumBeams = 1
	}
	if p.MaxLength <= 0 {
		return nil, errors.New("beam search: max length must be > 0")
	}
	if p.LengthPenalty == 0 {
		p.LengthPenalty = 1
	}
	beams := []hypothesis{{tokens: []int{p.DecoderStart}}}
	var finished []hypothesis

	normalize := func(h hypothesis, genLen int) float64 {
		if genLen < 1 {
			genLen = 1
		}
		return h.score / math.Pow(float64(genLen), p.LengthPenalty)
	}

	for gen := 0; gen < p.MaxLength; gen++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		prefixes := make([][]int, len(beams))
		for i, b := range beams {
			prefixes[i] = b.tokens
		}
		logits, err := step(ctx, prefixes)
		if err != nil {
			return nil, err
		}
		if len(logits) != len(beams) {
			return nil, errors.New("beam search: step returned wrong batch size")
		}

		cands := make([]candidate, 0, len(beams)*2*p.NumBeams)
		for bi, b := range beams {
			lp := LogSoftmax(logits[bi])
			if gen < p.MinLength && p.EOS >= 0 && p.EOS < len(lp) {
				lp[p.EOS] = math.Inf(-1)
			}
			for _, tok := range bannedNgramTokens(b.tokens, p.NoRepeatNgram) {
				if tok < len(lp) {
					lp[tok] = math.Inf(-1)
				}
			}
			for _, tok := range topK(lp, 2*p.NumBeams) {
				if math.IsInf(lp[tok], -1) {
					continue
				}
				cands = append(cands, candidate{beam: bi, token: tok, score: b.score + lp[tok]})
			}
		}
		sort.SliceStable(cands, func(i, j int) bool { return cands[i].score > cands[j].score })

		next := make([]hypothesis, 0, p.NumBeams)
		for rank, c := range cands {
			if c.token == p.EOS {
				if rank < p.NumBeams {
					h := hypothesis{tokens: beams[c.beam].tokens, score: c.score}
					h.score = normalize(h, gen+1)
					finished = append(finished, h)
				}
				continue
			}
			toks := make([]int, len(beams[c.beam].tokens)+1)
			copy(toks, beams[c.beam].tokens)
			toks[len(toks)-1] = c.token
			next = append(next, hypothesis{tokens: toks, score: c.score})
			if len(next) == p.NumBeams {
				break
			}
		}
		beams = next

		if len(finished) >= p.NumBeams {
			if p.EarlyStopping || len(beams) == 0 {
				break
			}
			sort.SliceStable(finished, func(i, j int) bool { return finished[i].score > finished[j].score })
			worst := finished[p.NumBeams-1].score
			if best := beams[0].score / math.Pow(float64(gen+1), p.LengthPenalty); worst >= best {
				break
			}
		}
		if len(beams) == 0 {
			break
		}
	}

	for _, b := range beams {
		if len(finished) >= p.NumBeams {
			break
		}
		finished = append(finished, hypothesis{tokens: b.tokens, score: normalize(b, len(b.tokens)-1)})
	}
	if len(finished) == 0 {
		return nil, errors.New("beam search: no hypothesis produced")
	}
	best := finished[0]
	for _, h := range finished[1:] {
		if h.score > best.score {
			best = h
		}
	}
	return append([]int(nil), best.tokens[1:]...), nil
}

// topK returns the indices of the k largest values, highest first.
func topK(xs []float64, k int) []int {
	idx := make([]int, len(xs))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return xs[idx[a]] > xs[idx[b]] })
	if k < len(idx) {
		idx = idx[:k]
	}
	return idx
}

// bannedNgramTokens lists tokens that would repeat an n-gram already in seq.
func bannedNgramTokens(seq []int, n int) []int {
	if n <= 0 || len(seq) < n {
		return nil
	}
	prefix := seq[len(seq)-n+1:]
	var banned []int
	for i := 0; i+n <= len(seq); i++ {
		match := true
		for j := 0; j < n-1; j++ {
			if seq[i+j] != prefix[j] {
				match = false
				break
			}
		}
		if match {
			banned = append(banned, seq[i+n-1])
		}
	}
	return banned
}
