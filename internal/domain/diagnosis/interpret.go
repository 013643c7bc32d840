package diagnosis

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/pyneumonia/pyneumonia/internal/platform/apierr"
	"github.com/pyneumonia/pyneumonia/internal/platform/inference"
)

const (
	// Suggested severity bounds for pneumonia classes.
	SevereThreshold = 0.85
	MildThreshold   = 0.60

	// AttentionThreshold flags pneumonia results for prompt review and
	// counts as "high confidence" in statistics.
	AttentionThreshold = 0.70

	HighConfidence   = 0.75
	MediumConfidence = 0.50

	MaxNotesLength = 5000
)

const (
	ConfidenceHigh   = "HIGH"
	ConfidenceMedium = "MEDIUM"
	ConfidenceLow    = "LOW"
)

var knownClasses = map[string]bool{
	ClassNormal:             true,
	ClassPneumoniaBacteria:  true,
	ClassPneumoniaBacterial: true,
	ClassPneumoniaViral:     true,
}

func KnownClass(class string) bool { return knownClasses[class] }

// IsPneumonia reports whether class is one of the pneumonia labels.
// Unrecognized labels are never treated as pneumonia.
func IsPneumonia(class string) bool {
	switch class {
	case ClassPneumoniaBacteria, ClassPneumoniaBacterial, ClassPneumoniaViral:
		return true
	}
	return false
}

// SuggestSeverity derives the severity suggestion stored with a completed
// analysis. It is empty for NORMAL and unknown classes.
func SuggestSeverity(class string, confidence float64) string {
	if !IsPneumonia(class) {
		return ""
	}
	switch {
	case confidence >= SevereThreshold:
		return SeveritySevere
	case confidence <= MildThreshold:
		return SeverityMild
	}
	return SeverityModerate
}

func ConfidenceLevel(confidence float64) string {
	switch {
	case confidence >= HighConfidence:
		return ConfidenceHigh
	case confidence >= MediumConfidence:
		return ConfidenceMedium
	}
	return ConfidenceLow
}

// Interpretation is the human readable reading of a classification.
type Interpretation struct {
	Description       string `json:"description"`
	Recommendation    string `json:"recommendation"`
	ConfidenceLevel   string `json:"confidence_level"`
	SuggestedSeverity string `json:"suggested_severity,omitempty"`
}

var descriptions = map[string][2]string{
	ClassNormal: {
		"No signs of pneumonia detected.",
		"Normal chest X-ray. No pneumonia treatment required.",
	},
	ClassPneumoniaBacteria: {
		"Findings compatible with bacterial pneumonia.",
		"Urgent medical evaluation recommended; consider antibiotic treatment.",
	},
	ClassPneumoniaBacterial: {
		"Findings compatible with bacterial pneumonia.",
		"Urgent medical evaluation recommended; consider antibiotic treatment.",
	},
	ClassPneumoniaViral: {
		"Findings compatible with viral pneumonia.",
		"Medical evaluation recommended. Treatment depends on severity.",
	},
}

func Interpret(class string, confidence float64) Interpretation {
	text, ok := descriptions[class]
	if !ok {
		text = [2]string{"Unknown classification.", "Requires medical evaluation."}
	}
	return Interpretation{
		Description:       text[0],
		Recommendation:    text[1],
		ConfidenceLevel:   ConfidenceLevel(confidence),
		SuggestedSeverity: SuggestSeverity(class, confidence),
	}
}

// Notes renders the interpretation as the automatic notes of a diagnosis.
func (i Interpretation) Notes(confidence float64) string {
	return fmt.Sprintf("%s\n\nConfidence level: %s (%.1f%%)\n\nRecommendation: %s",
		i.Description, i.ConfidenceLevel, confidence*100, i.Recommendation)
}

// Outcome is a validated classifier answer ready to be stored.
type Outcome struct {
	Prediction     inference.Prediction
	Known          bool
	Interpretation Interpretation
}

// Ingest picks the highest-confidence prediction, first one winning ties, and
// validates it. It does not touch any record, so a rejected result leaves
// the diagnosis exactly as it was.
func Ingest(res *inference.Result) (*Outcome, error) {
	if res == nil || len(res.Predictions) == 0 {
		return nil, inference.ErrMalformed
	}
	best := res.Predictions[0]
	for _, p := range res.Predictions[1:] {
		if p.Confidence > best.Confidence {
			best = p
		}
	}
	if math.IsNaN(best.Confidence) || best.Confidence < 0 || best.Confidence > 1 {
		return nil, apierr.Validation("confidence", fmt.Sprintf("%v is outside [0, 1]", best.Confidence))
	}
	if strings.TrimSpace(best.Class) == "" {
		return nil, fmt.Errorf("%w: prediction without class", inference.ErrMalformed)
	}
	out := &Outcome{Prediction: best, Known: KnownClass(best.Class)}
	out.Interpretation = Interpret(best.Class, best.Confidence)
	return out, nil
}

var unsafeNotes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<script`),
	regexp.MustCompile(`(?i)javascript:`),
	regexp.MustCompile(`(?i)on\w+\s*=`),
	regexp.MustCompile(`(?i)<iframe`),
	regexp.MustCompile(`(?i)<embed`),
}

// ValidateNotes trims free-text notes and rejects oversized or script-like
// content. Empty notes are allowed.
func ValidateNotes(field, notes string) (string, error) {
	notes = strings.TrimSpace(notes)
	if utf8.RuneCountInString(notes) > MaxNotesLength {
		return "", apierr.Validation(field, fmt.Sprintf("must be at most %d characters", MaxNotesLength))
	}
	for _, re := range unsafeNotes {
		if re.MatchString(notes) {
			return "", apierr.Validation(field, "contains disallowed content")
		}
	}
	return notes, nil
}
