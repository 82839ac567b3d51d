package chord

import "strings"

// DefaultProgressionKey is used when a requested key has no progression.
const DefaultProgressionKey = "G"

var progressions = map[string][]string{
	"C": {"cmajor", "aminor", "fmajor", "gmajor"},
	"G": {"gmajor", "eminor", "cmajor", "dmajor"},
	"D": {"dmajor", "bminor", "gmajor", "amajor"},
	"A": {"amajor", "fsharpminor", "dmajor", "emajor"},
	"E": {"emajor", "csharpminor", "amajor", "bmajor"},
}

// Progression is a common chord sequence in a key, limited to the chords the
// table actually holds.
type Progression struct {
	Key       string   `json:"key"`
	Chords    []Record `json:"progression"`
	Available bool     `json:"available"`
}

// Progression returns the I-vi-IV-V style progression for key. Unknown keys
// fall back to G; names missing from the table are skipped.
func (t *Table) Progression(key string) Progression {
	key = strings.ToUpper(strings.TrimSpace(key))
	names, ok := progressions[key]
	if !ok {
		names = progressions[DefaultProgressionKey]
	}

	p := Progression{Key: key, Chords: make([]Record, 0, len(names))}
	for _, name := range names {
		if rec, ok := t.Lookup(name); ok {
			p.Chords = append(p.Chords, rec)
		}
	}
	p.Available = len(p.Chords) > 0
	return p
}
