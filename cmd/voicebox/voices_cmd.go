package main

import (
	"errors"
	"fmt"
	"sort"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dgnsrekt/voicebox"
	"github.com/mattn/go-runewidth"
	"github.com/sahilm/fuzzy"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
)

var (
	voicesFilter   string
	voicesLanguage string

	voicesCmd = &cobra.Command{
		Use:     "voices",
		Short:   "List the voices the configured engine can speak with",
		Example: paragraph("voicebox voices --language en\nvoicebox voices --filter amy --engine piper"),
		Args:    cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			s, err := newSpeech()
			if err != nil {
				return err
			}
			defer s.Close() //nolint:errcheck

			voices, err := s.Voices()
			if err != nil {
				return fmt.Errorf("unable to list voices: %w", err)
			}
			voices, err = filterVoices(voices)
			if err != nil {
				return err
			}
			if len(voices) == 0 {
				fmt.Println("No voices match.")
				return nil
			}

			current, err := s.Voice()
			if err != nil && !errors.Is(err, voicebox.ErrUnsupported) {
				return err
			}

			fmt.Println(voiceTable(voices, current))
			return nil
		},
	}
)

// voiceSource adapts a voice list for fuzzy matching over id and name.
type voiceSource []voicebox.Voice

func (s voiceSource) String(i int) string { return s[i].ID + " " + s[i].Name }
func (s voiceSource) Len() int            { return len(s) }

// filterVoices applies the --language and --filter flags. Language filtered
// results stay sorted by language then id; fuzzy results keep match order.
func filterVoices(voices []voicebox.Voice) ([]voicebox.Voice, error) {
	if voicesLanguage != "" {
		want, err := language.Parse(voicesLanguage)
		if err != nil {
			return nil, fmt.Errorf("invalid language %q: %w", voicesLanguage, err)
		}
		kept := voices[:0]
		for _, v := range voices {
			if languageMatches(v.Language, want) {
				kept = append(kept, v)
			}
		}
		voices = kept
	}

	sort.Slice(voices, func(i, j int) bool {
		if voices[i].Language != voices[j].Language {
			return voices[i].Language.String() < voices[j].Language.String()
		}
		return voices[i].ID < voices[j].ID
	})

	if voicesFilter != "" {
		matches := fuzzy.FindFrom(voicesFilter, voiceSource(voices))
		kept := make([]voicebox.Voice, 0, len(matches))
		for _, m := range matches {
			kept = append(kept, voices[m.Index])
		}
		voices = kept
	}
	return voices, nil
}

// languageMatches reports whether a voice speaks the wanted language. A bare
// language such as "en" matches every region; a full tag such as "en-GB"
// must match the region too.
func languageMatches(voice, want language.Tag) bool {
	vb, _ := voice.Base()
	wb, _ := want.Base()
	if vb != wb {
		return false
	}
	wr, conf := want.Region()
	if conf != language.Exact {
		return true
	}
	vr, _ := voice.Region()
	return vr == wr
}

func genderLabel(g voicebox.Gender) string {
	if g == voicebox.GenderUnspecified {
		return ""
	}
	return g.String()
}

func voiceTable(voices []voicebox.Voice, current *voicebox.Voice) *table.Table {
	header := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cell := lipgloss.NewStyle().Padding(0, 1)

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("240"))).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return header
			}
			return cell
		}).
		Headers("VOICE", "NAME", "LANGUAGE", "GENDER")

	for _, v := range voices {
		id := runewidth.Truncate(v.ID, 34, "…")
		if current != nil && v.ID == current.ID {
			id = "• " + id
		}
		t.Row(id, runewidth.Truncate(v.Name, 24, "…"), v.Language.String(), genderLabel(v.Gender))
	}
	return t
}

func init() {
	voicesCmd.Flags().StringVar(&voicesFilter, "filter", "", "fuzzy filter voices by id or name")
	voicesCmd.Flags().StringVarP(&voicesLanguage, "language", "l", "", "only voices for a BCP 47 language, like en or en-GB")
}
