package chord

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode"

	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v3"
)

// ErrChordNotFound is returned when a name resolves to no record.
var ErrChordNotFound = errors.New("chord not found")

//go:embed chords.yaml
var defaultTableYAML []byte

// Position is one fingering on the fretboard.
// String 1 is the high E string; fret 0 with finger 0 is an open string.
type Position struct {
	String int `yaml:"string" json:"string"`
	Fret   int `yaml:"fret" json:"fret"`
	Finger int `yaml:"finger" json:"finger"`
}

// Record is a chord definition. Records handed out by a Table are copies.
type Record struct {
	ID          string     `yaml:"id" json:"id"`
	Name        string     `yaml:"name" json:"name"`
	DisplayName string     `yaml:"displayName" json:"displayName"`
	Difficulty  string     `yaml:"difficulty" json:"difficulty"`
	Positions   []Position `yaml:"positions" json:"positions"`
	Tips        string     `yaml:"tips" json:"tips"`
	AudioURL    string     `yaml:"audioUrl" json:"audioUrl"`
	Barre       bool       `yaml:"barre" json:"isBarreChord,omitempty"`
	Aliases     []string   `yaml:"aliases" json:"-"`
}

func (r Record) clone() Record {
	out := r
	out.Positions = append([]Position(nil), r.Positions...)
	out.Aliases = append([]string(nil), r.Aliases...)
	return out
}

// Stats summarises a table for status reporting.
type Stats struct {
	TotalChords  int      `json:"totalChords"`
	Difficulties []string `json:"difficulties"`
}

// Table is an immutable chord lookup keyed by normalised id or alias.
// It is built once and never written afterwards, so lookups take no lock.
type Table struct {
	records map[string]Record
	aliases map[string]string
	ids     []string
}

type tableFile struct {
	Chords []Record `yaml:"chords"`
}

// NormalizeKey lowercases name and strips all whitespace, so "B Minor",
// "bminor" and " Bm " normalise to comparable keys.
func NormalizeKey(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// NewTable builds a table from records. IDs and aliases must be unique
// after normalisation and every record needs at least one position.
func NewTable(records []Record) (*Table, error) {
	t := &Table{
		records: make(map[string]Record, len(records)),
		aliases: make(map[string]string),
	}

	for _, rec := range records {
		id := NormalizeKey(rec.ID)
		if id == "" {
			return nil, fmt.Errorf("chord %q: empty id", rec.Name)
		}
		if _, dup := t.records[id]; dup {
			return nil, fmt.Errorf("chord %q: duplicate id", rec.ID)
		}
		if len(rec.Positions) == 0 {
			return nil, fmt.Errorf("chord %q: no positions", rec.ID)
		}
		rec.ID = id
		t.records[id] = rec.clone()
		t.ids = append(t.ids, id)
	}

	for id, rec := range t.records {
		for _, alias := range rec.Aliases {
			key := NormalizeKey(alias)
			if key == "" || key == id {
				continue
			}
			if _, clash := t.records[key]; clash {
				return nil, fmt.Errorf("chord %q: alias %q shadows a chord id", id, alias)
			}
			if other, clash := t.aliases[key]; clash && other != id {
				return nil, fmt.Errorf("chord %q: alias %q already used by %q", id, alias, other)
			}
			t.aliases[key] = id
		}
	}

	slices.Sort(t.ids)
	return t, nil
}

// Load decodes a YAML chord table.
func Load(r io.Reader) (*Table, error) {
	var f tableFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode chord table: %w", err)
	}
	return NewTable(f.Chords)
}

// LoadFile reads a YAML chord table from disk.
func LoadFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open chord table: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Default returns the built-in chord table.
func Default() *Table {
	t, err := Load(bytes.NewReader(defaultTableYAML))
	if err != nil {
		panic(fmt.Sprintf("embedded chord table is invalid: %v", err))
	}
	return t
}

// Lookup resolves name (id or alias, any case or spacing) to a record copy.
func (t *Table) Lookup(name string) (Record, bool) {
	key := NormalizeKey(name)
	if key == "" {
		return Record{}, false
	}
	if id, ok := t.aliases[key]; ok {
		key = id
	}
	rec, ok := t.records[key]
	if !ok {
		return Record{}, false
	}
	return rec.clone(), true
}

// Get is Lookup with an error for callers that propagate misses.
func (t *Table) Get(name string) (Record, error) {
	rec, ok := t.Lookup(name)
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrChordNotFound, name)
	}
	return rec, nil
}

// Len returns the number of distinct chords.
func (t *Table) Len() int {
	return len(t.records)
}

// IDs returns all chord ids in sorted order.
func (t *Table) IDs() []string {
	return append([]string(nil), t.ids...)
}

// List returns every record, optionally filtered by difficulty, ordered by id.
func (t *Table) List(difficulty string) []Record {
	out := make([]Record, 0, len(t.ids))
	for _, id := range t.ids {
		rec := t.records[id]
		if difficulty != "" && !strings.EqualFold(rec.Difficulty, difficulty) {
			continue
		}
		out = append(out, rec.clone())
	}
	return out
}

// Search returns records whose name or display name contains query,
// case-insensitively.
func (t *Table) Search(query string) []Record {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}
	var out []Record
	for _, id := range t.ids {
		rec := t.records[id]
		if strings.Contains(strings.ToLower(rec.Name), q) ||
			strings.Contains(strings.ToLower(rec.DisplayName), q) {
			out = append(out, rec.clone())
		}
	}
	return out
}

// Stats reports the chord count and the distinct difficulty tiers.
func (t *Table) Stats() Stats {
	diffs := make([]string, 0, 3)
	for _, id := range t.ids {
		d := t.records[id].Difficulty
		if d != "" && !slices.Contains(diffs, d) {
			diffs = append(diffs, d)
		}
	}
	slices.Sort(diffs)
	return Stats{TotalChords: len(t.records), Difficulties: diffs}
}
