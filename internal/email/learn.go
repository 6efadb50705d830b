package email

import (
	"fmt"
	"strconv"
	"strings"
)

// Preference keys written by LearnFromEdit.
const (
	PrefPreferredLength = "learned.preferred_length"
	PrefToneLean        = "learned.tone_preference"
)

var (
	casualMarkers = []string{"hey", "hi", "thanks", "!"}
	formalMarkers = []string{"dear", "sincerely", "regards", "respectfully"}
)

// LearnFromEdit records what a user's own edit says about their taste: the
// word count they settled on and, when the markers disagree, whether they
// lean casual or formal. A tie leaves the previous lean in place.
func (p Profile) LearnFromEdit(edited string) Profile {
	p = p.Clone()
	if p.Preferences == nil {
		p.Preferences = make(map[string]string, 2)
	}
	p.Preferences[PrefPreferredLength] = strconv.Itoa(len(strings.Fields(edited)))

	lower := strings.ToLower(edited)
	casual, formal := markerCount(lower, casualMarkers), markerCount(lower, formalMarkers)
	switch {
	case casual > formal:
		p.Preferences[PrefToneLean] = string(ToneCasual)
	case formal > casual:
		p.Preferences[PrefToneLean] = string(ToneFormal)
	}
	return p
}

func markerCount(text string, markers []string) int {
	n := 0
	for _, m := range markers {
		if strings.Contains(text, m) {
			n++
		}
	}
	return n
}

// StyleGuide is the style notes plus anything learned from past edits.
func (p Profile) StyleGuide() string {
	parts := []string{}
	if s := strings.TrimSpace(p.StyleNotes); s != "" {
		parts = append(parts, s)
	}
	if n, err := strconv.Atoi(p.Preferences[PrefPreferredLength]); err == nil && n > 0 {
		parts = append(parts, fmt.Sprintf("usually about %d words", n))
	}
	if lean := p.Preferences[PrefToneLean]; lean != "" {
		parts = append(parts, "leans "+lean)
	}
	return strings.Join(parts, "; ")
}
