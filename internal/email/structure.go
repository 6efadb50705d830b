package email

// Structure is the outline and target length for a draft of one intent.
type Structure struct {
	Outline  []string
	MinWords int
	MaxWords int
}

var structures = map[Intent]Structure{
	IntentOutreach: {
		Outline:  []string{"personalized opening", "brief self-introduction", "clear value proposition", "specific ask or next step", "professional closing"},
		MinWords: 150, MaxWords: 200,
	},
	IntentFollowUp: {
		Outline:  []string{"reference the previous interaction", "context reminder", "new value or information", "clear call to action", "respect for their time"},
		MinWords: 100, MaxWords: 150,
	},
	IntentThankYou: {
		Outline:  []string{"sincere gratitude", "what you are thanking them for", "impact or value", "offer of reciprocity", "warm closing"},
		MinWords: 100, MaxWords: 150,
	},
	IntentMeetingRequest: {
		Outline:  []string{"brief context for the meeting", "purpose and agenda", "proposed times", "expected duration and format", "easy way to confirm"},
		MinWords: 100, MaxWords: 150,
	},
	IntentApology: {
		Outline:  []string{"acknowledge the issue", "take responsibility", "explain briefly without excuses", "corrective action", "commitment going forward"},
		MinWords: 100, MaxWords: 150,
	},
	IntentInformationRequest: {
		Outline:  []string{"context for the request", "specific questions", "why the information matters", "timeline if relevant", "thanks in advance"},
		MinWords: 80, MaxWords: 130,
	},
	IntentStatusUpdate: {
		Outline:  []string{"summary up front", "progress made", "blockers or risks", "next steps", "offer to discuss"},
		MinWords: 100, MaxWords: 180,
	},
	IntentIntroduction: {
		Outline:  []string{"who is being introduced", "why the connection is valuable", "relevant background", "suggested next step"},
		MinWords: 80, MaxWords: 150,
	},
	IntentNetworking: {
		Outline:  []string{"how you found them", "shared interest", "what you can offer", "low-pressure ask"},
		MinWords: 80, MaxWords: 150,
	},
	IntentComplaint: {
		Outline:  []string{"state the issue factually", "impact on you", "supporting details", "desired resolution", "deadline for response"},
		MinWords: 100, MaxWords: 180,
	},
}

// StructureFor returns the structure for i, defaulting to outreach.
func StructureFor(i Intent) Structure {
	if s, ok := structures[i]; ok {
		return s
	}
	return structures[IntentOutreach]
}
