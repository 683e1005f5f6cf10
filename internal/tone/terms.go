package tone

import "strings"

// ForbiddenTermSets enumerates keyword groups the station's editorial voice
// flags: dystopian framing, fantasy-genre leakage, and anachronisms that
// break the in-universe future setting (§GLOSSARY "Forbidden terms").
var ForbiddenTermSets = map[string][]string{
	"dystopian": {
		"wasteland", "totalitarian regime", "the resistance", "rebel uprising",
		"surveillance state", "ministry of truth", "forced labor camp",
	},
	"fantasy": {
		"dragon", "wizard", "magic spell", "sorcerer", "enchanted", "kingdom of",
		"prophecy",
	},
	"anachronism": {
		"dial-up modem", "fax machine", "vhs tape", "rotary phone", "floppy disk",
	},
}

// FindForbidden returns every forbidden term present in text (lowercased
// substring match), across all term sets, for surfacing in a SCRIPT_INVALID
// error or a tone report.
func FindForbidden(text string) []string {
	lower := strings.ToLower(text)
	var found []string
	for _, terms := range ForbiddenTermSets {
		for _, term := range terms {
			if strings.Contains(lower, term) {
				found = append(found, term)
			}
		}
	}
	return found
}
