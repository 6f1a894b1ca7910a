package voicebox

import "golang.org/x/text/language"

// Gender is the gender attributed to a voice by its engine, when known.
type Gender int

const (
	GenderUnspecified Gender = iota
	GenderMale
	GenderFemale
)

// String returns the lowercase name of the gender.
func (g Gender) String() string {
	switch g {
	case GenderMale:
		return "male"
	case GenderFemale:
		return "female"
	default:
		return "unspecified"
	}
}

// Voice describes one voice an engine can speak with.
type Voice struct {
	// ID is the engine's stable identifier for the voice, suitable for
	// configuration files.
	ID string

	// Name is the human-readable name.
	Name string

	// Language is the BCP 47 tag of the language the voice speaks.
	Language language.Tag

	// Gender of the voice, GenderUnspecified when the engine does not say.
	Gender Gender
}

// String returns the voice id.
func (v Voice) String() string {
	return v.ID
}
