// Package email holds the vocabulary shared by the pipeline: intents, tones,
// per-intent draft structures and owner profiles.
package email

import (
	"strings"
)

// Intent is the category of an email.
type Intent string

const (
	IntentOutreach           Intent = "outreach"
	IntentFollowUp           Intent = "follow_up"
	IntentApology            Intent = "apology"
	IntentInformationRequest Intent = "information_request"
	IntentThankYou           Intent = "thank_you"
	IntentMeetingRequest     Intent = "meeting_request"
	IntentStatusUpdate       Intent = "status_update"
	IntentIntroduction       Intent = "introduction"
	IntentNetworking         Intent = "networking"
	IntentComplaint          Intent = "complaint"
)

// Intents lists every supported intent.
var Intents = []Intent{
	IntentOutreach,
	IntentFollowUp,
	IntentApology,
	IntentInformationRequest,
	IntentThankYou,
	IntentMeetingRequest,
	IntentStatusUpdate,
	IntentIntroduction,
	IntentNetworking,
	IntentComplaint,
}

// Valid reports whether i is a member of the closed intent set.
func (i Intent) Valid() bool {
	for _, known := range Intents {
		if i == known {
			return true
		}
	}
	return false
}

// NormalizeIntent maps free-form model output onto the intent set. An exact
// match wins; otherwise the first intent whose name appears in the text is
// used. ok is false when nothing matches.
func NormalizeIntent(raw string) (Intent, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.Trim(s, "\"'`.")
	s = strings.NewReplacer("-", "_", " ", "_").Replace(s)

	if Intent(s).Valid() {
		return Intent(s), true
	}
	for _, known := range Intents {
		if strings.Contains(s, string(known)) {
			return known, true
		}
	}
	return "", false
}

// intentKeywords is evaluated in order; the first hit wins.
var intentKeywords = []struct {
	intent   Intent
	keywords []string
}{
	{IntentFollowUp, []string{"follow"}},
	{IntentThankYou, []string{"thank"}},
	{IntentMeetingRequest, []string{"meeting", "schedule"}},
	{IntentApology, []string{"apolog", "sorry"}},
	{IntentInformationRequest, []string{"info", "question", "help"}},
	{IntentStatusUpdate, []string{"status", "update"}},
	{IntentIntroduction, []string{"introduc"}},
	{IntentNetworking, []string{"network", "connect"}},
	{IntentComplaint, []string{"complain", "disappoint"}},
}

// DetectIntent classifies text with keyword rules. It never fails; text
// matching no rule is outreach.
func DetectIntent(text string) Intent {
	lower := strings.ToLower(text)
	for _, rule := range intentKeywords {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.intent
			}
		}
	}
	return IntentOutreach
}
