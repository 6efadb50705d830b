package email

import (
	"strings"
)

const (
	DefaultSignature  = "\n\nBest regards"
	DefaultStyleNotes = "professional and clear"
)

// Profile is what an owner has told us about themselves.
type Profile struct {
	Owner       string            `json:"owner_id"`
	Name        string            `json:"user_name,omitempty"`
	Title       string            `json:"user_title,omitempty"`
	Company     string            `json:"user_company,omitempty"`
	Signature   string            `json:"signature,omitempty"`
	StyleNotes  string            `json:"style_notes,omitempty"`
	Preferences map[string]string `json:"preferences,omitempty"`
}

// EmptyProfile returns the profile used when none is stored or storage is
// unavailable.
func EmptyProfile(owner string) Profile {
	return Profile{
		Owner:      owner,
		Signature:  DefaultSignature,
		StyleNotes: DefaultStyleNotes,
	}
}

// WithDefaults fills blank signature and style notes.
func (p Profile) WithDefaults() Profile {
	if strings.TrimSpace(p.Signature) == "" {
		p.Signature = DefaultSignature
	}
	if strings.TrimSpace(p.StyleNotes) == "" {
		p.StyleNotes = DefaultStyleNotes
	}
	return p
}

// SignOff returns the signature block, with the owner's name appended when
// it is known and not already present.
func (p Profile) SignOff() string {
	sig := p.Signature
	if sig == "" {
		sig = DefaultSignature
	}
	if p.Name != "" && !strings.Contains(sig, p.Name) {
		sig = strings.TrimRight(sig, "\n ") + ",\n" + p.Name
	}
	return sig
}

// Clone returns a deep copy.
func (p Profile) Clone() Profile {
	if p.Preferences != nil {
		prefs := make(map[string]string, len(p.Preferences))
		for k, v := range p.Preferences {
			prefs[k] = v
		}
		p.Preferences = prefs
	}
	return p
}
