// Package chord holds the chord reference table consulted by the request
// coordinator once the interpreter has named a chord.
//
// # Overview
//
// The table is read-only reference data: a set of chord records, each with an
// ordered list of fingering positions, difficulty tier, playing tip and audio
// sample reference. It is loaded once (from the embedded default or a YAML
// file) and never mutated, so concurrent lookups need no synchronisation.
//
// # Keys
//
// Lookups are exact matches on a normalised key: the name is lowercased and
// all whitespace removed. Each record is stored under its id and may list
// aliases that resolve to it:
//
//	"Bm"      → bm
//	"B Minor" → bminor → bm
//	"b m"     → bm
//
// A miss is not an error for the coordinator; it simply means no overlay can
// be drawn for the request.
//
// # File format
//
//	chords:
//	  - id: bm
//	    name: B Minor
//	    displayName: Bm
//	    difficulty: intermediate
//	    aliases: [bminor]
//	    positions:
//	      - {string: 1, fret: 2, finger: 1}
//	    tips: Barre chord
//	    audioUrl: /audio/chords/bm.mp3
//
// Unknown fields are rejected so typos in a custom table surface at startup.
package chord
