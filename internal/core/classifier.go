package core

import "strings"

// Classifier decides whether a user utterance signals a medical emergency.
// It is pure: lower-cased substring membership over a fixed lexicon, sticky
// on the prior flag, no I/O.
type Classifier struct {
	phrases []string
}

// NewClassifier builds a classifier over the lexicon's emergency phrases.
func NewClassifier(lex *Lexicon) *Classifier {
	return &Classifier{phrases: lex.Emergency}
}

// Classify returns true if the text contains any emergency phrase, or if the
// session had already been flagged.  Once true, always true.
func (c *Classifier) Classify(latestUserText string, priorEmergencyDetected bool) bool {
	if priorEmergencyDetected {
		return true
	}
	text := strings.ToLower(latestUserText)
	for _, p := range c.phrases {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}

// containsAny reports whether text (lower-cased) contains any of the given
// lower-case phrases.  Used by the confirmation detector.
func containsAny(text string, phrases []string) bool {
	text = strings.ToLower(text)
	for _, p := range phrases {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}
