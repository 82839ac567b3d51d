package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/dreamware/strumspace/internal/chord"
	"github.com/dreamware/strumspace/internal/config"
)

var chordsOutput string

func newChordsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chords",
		Short: "Inspect the chord reference table",
		Long: `Inspect the chord table strumspace would load, either the built-in table
or the file named by chordTable / CHORD_TABLE.`,
	}
	cmd.PersistentFlags().StringVarP(&chordsOutput, "output", "o", "table", "output format (table, json)")

	var difficulty string
	list := &cobra.Command{
		Use:   "list",
		Short: "List chords",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := chordTable()
			if err != nil {
				return err
			}
			return printChords(cmd.OutOrStdout(), t.List(difficulty))
		},
	}
	list.Flags().StringVar(&difficulty, "difficulty", "", "only chords of this difficulty")

	show := &cobra.Command{
		Use:   "show NAME",
		Short: "Show one chord by id, alias or name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := chordTable()
			if err != nil {
				return err
			}
			rec, err := t.Get(args[0])
			if err != nil {
				return err
			}
			if chordsOutput == "json" {
				return writeIndented(cmd.OutOrStdout(), rec)
			}
			return printPositions(cmd.OutOrStdout(), rec)
		},
	}

	progression := &cobra.Command{
		Use:   "progression KEY",
		Short: "Show the common progression in a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := chordTable()
			if err != nil {
				return err
			}
			p := t.Progression(args[0])
			if chordsOutput == "json" {
				return writeIndented(cmd.OutOrStdout(), p)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Key of %s\n", p.Key)
			return printChords(cmd.OutOrStdout(), p.Chords)
		},
	}

	cmd.AddCommand(list, show, progression)
	return cmd
}

// chordTable loads the table named by the configuration without starting
// anything else.
func chordTable() (*chord.Table, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return loadChords(cfg.ChordTable)
}

func writeIndented(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printChords(w io.Writer, recs []chord.Record) error {
	if chordsOutput == "json" {
		return writeIndented(w, recs)
	}
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"ID", "NAME", "DIFFICULTY", "FINGERS", "BARRE"})
	for _, r := range recs {
		barre := ""
		if r.Barre {
			barre = "yes"
		}
		t.AppendRow(table.Row{r.ID, r.DisplayName, r.Difficulty, len(r.Positions), barre})
	}
	t.AppendFooter(table.Row{"", "", "", "TOTAL", len(recs)})
	t.Render()
	return nil
}

func printPositions(w io.Writer, rec chord.Record) error {
	fmt.Fprintf(w, "%s (%s)\n", rec.DisplayName, rec.Difficulty)
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"STRING", "FRET", "FINGER"})
	for _, p := range rec.Positions {
		t.AppendRow(table.Row{p.String, p.Fret, p.Finger})
	}
	t.Render()
	if tips := strings.TrimSpace(rec.Tips); tips != "" {
		fmt.Fprintf(w, "Tip: %s\n", tips)
	}
	return nil
}
