package manager

import (
	"fmt"
	"regexp"
	"strings"

	"clinicd/internal/tokenizer"
)

const (
	autoSystemPrompt = "You are an expert clinical psychologist providing evidence-based treatment recommendations. " +
		"Your recommendations should be specific, actionable, and tailored to the diagnosed condition."

	manualSystemPrompt = "You are an expert clinical psychologist. You write clear, structured treatment recommendations, " +
		"always emphasizing safety and referral to a professional."
)

// promptMessages builds the system and user turns for one request.
func promptMessages(label, summary string, mode Mode) []tokenizer.ChatMessage {
	if mode == ModeManual {
		return []tokenizer.ChatMessage{
			{Role: "system", Content: manualSystemPrompt},
			{Role: "user", Content: fmt.Sprintf("Detected/Selected pathology: %s\nDiagnosis summary: %s\n\n"+
				"Generate a structured treatment recommendation with:\n"+
				"1. Psychoeducation\n"+
				"2. Recommended therapeutic approaches\n"+
				"3. Self-care guidelines\n"+
				"4. Warning signs that require urgent professional help.", label, summary)},
		}
	}
	return []tokenizer.ChatMessage{
		{Role: "system", Content: autoSystemPrompt},
		{Role: "user", Content: fmt.Sprintf("Diagnosed Pathology: %s\nClinical Summary: %s\n\n"+
			"Generate a comprehensive, evidence-based treatment recommendation including:\n"+
			"1. Recommended psychotherapy approaches\n"+
			"2. Medication considerations (if applicable)\n"+
			"3. Lifestyle interventions\n"+
			"4. Follow-up and monitoring plan", label, summary)},
	}
}

// fallbackRecommendation is returned when no generator is loaded.
func fallbackRecommendation(label string) string {
	return fmt.Sprintf("Based on the analysis, the text shows indicators consistent with %s. "+
		"An automated treatment recommendation is currently unavailable. "+
		"Please consult a qualified mental health professional for a proper assessment and a personalized treatment plan.", label)
}

var recommendationLabel = regexp.MustCompile(`(?i)^\s*recommendation\s*:\s*`)

// cleanRecommendation trims generated text and drops a leading
// "Recommendation:" label.
func cleanRecommendation(s string) string {
	s = strings.TrimSpace(s)
	return strings.TrimSpace(recommendationLabel.ReplaceAllString(s, ""))
}
