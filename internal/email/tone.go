package email

import (
	"fmt"
	"strings"
)

// Tone is the requested register of an email.
type Tone string

const (
	ToneFormal     Tone = "formal"
	ToneCasual     Tone = "casual"
	ToneAssertive  Tone = "assertive"
	ToneEmpathetic Tone = "empathetic"
)

// Tones lists every supported tone.
var Tones = []Tone{ToneFormal, ToneCasual, ToneAssertive, ToneEmpathetic}

// DefaultTone is used when a request names no tone.
const DefaultTone = ToneFormal

// ParseTone validates s against the closed tone set. An empty string yields
// DefaultTone.
func ParseTone(s string) (Tone, error) {
	t := Tone(strings.ToLower(strings.TrimSpace(s)))
	if t == "" {
		return DefaultTone, nil
	}
	if _, ok := toneGuides[t]; !ok {
		return "", fmt.Errorf("unsupported tone %q (want formal, casual, assertive or empathetic)", s)
	}
	return t, nil
}

// ToneGuide describes how a tone shapes a draft.
type ToneGuide struct {
	Characteristics string
	Vocabulary      string
	Structure       string
	Greeting        string
	Closing         string
}

var toneGuides = map[Tone]ToneGuide{
	ToneFormal: {
		Characteristics: "professional, respectful, polished",
		Vocabulary:      "precise and courteous; no slang or contractions",
		Structure:       "complete sentences, clear paragraphs",
		Greeting:        "Dear",
		Closing:         "Best regards",
	},
	ToneCasual: {
		Characteristics: "friendly, relaxed, conversational",
		Vocabulary:      "everyday words, contractions welcome",
		Structure:       "short paragraphs, light phrasing",
		Greeting:        "Hi",
		Closing:         "Cheers",
	},
	ToneAssertive: {
		Characteristics: "direct, confident, action-oriented",
		Vocabulary:      "decisive verbs, no hedging",
		Structure:       "lead with the ask, explicit next steps",
		Greeting:        "Hello",
		Closing:         "Regards",
	},
	ToneEmpathetic: {
		Characteristics: "warm, understanding, supportive",
		Vocabulary:      "acknowledging and considerate",
		Structure:       "recognize the reader's situation before the request",
		Greeting:        "Dear",
		Closing:         "Warm regards",
	},
}

// Guide returns the guide for t, falling back to the default tone.
func (t Tone) Guide() ToneGuide {
	if g, ok := toneGuides[t]; ok {
		return g
	}
	return toneGuides[DefaultTone]
}
