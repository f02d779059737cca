// Package e2e provides end-to-end tests; this file builds the synthetic
// manuscript the tests import, correct, and review.
package e2e

import (
	"fmt"
	"strings"

	"github.com/proofloop/galley/internal/models"
)

// E2EParagraph is one paragraph of the synthetic manuscript. Corrected is the
// text the built-in static generator produces for it; the two are equal when
// the paragraph carries no seeded misspelling.
type E2EParagraph struct {
	Text      string
	Corrected string
}

// Misspelled reports whether the paragraph carries a seeded misspelling.
func (p *E2EParagraph) Misspelled() bool { return p.Corrected != p.Text }

// E2EChapter is one chapter of the synthetic manuscript.
type E2EChapter struct {
	Name       string
	Paragraphs []E2EParagraph
}

// SearchCase pairs a full-text query with the chapter whose text it should hit.
type SearchCase struct {
	Query       string
	Chapter     string
	Description string
}

// Manuscript is the synthetic manuscript plus the expectations derived from
// it: per-paragraph corrections, misspelling counts, and search cases.
type Manuscript struct {
	Name            string
	Chapters        []E2EChapter
	SearchCases     []SearchCase
	TotalParagraphs int
	TotalMisspelled int
}

// staticReplacements mirrors the replacement table of the built-in static
// generator. The corpus computes its expected corrections with it, and a
// corpus test compares those against the real generator so the two tables
// cannot drift apart. Seeded misspellings are always lowercase because the
// replacement is case-sensitive.
var staticReplacements = [][2]string{
	{"teh", "the"},
	{"recieve", "receive"},
	{"seperate", "separate"},
	{"definately", "definitely"},
	{"occured", "occurred"},
}

func expectedCorrection(text string) string {
	out := strings.Join(strings.Fields(text), " ")
	for _, r := range staticReplacements {
		out = strings.ReplaceAll(out, r[0], r[1])
	}
	return out
}

// BuildManuscript builds "The Harbor Ledger", a six-chapter manuscript with a
// known set of misspelled paragraphs and a signature phrase per chapter for
// the search tests.
func BuildManuscript() *Manuscript {
	chapters := []struct {
		name  string
		paras []string
	}{
		{"The Keeper's Watch", []string{
			"The lamp room above Pelican Point held its breath at dusk, waiting for the keeper to climb the last of the hundred and four steps.",
			"Old Maren logged teh weather in a canvas ledger, the same way her father had, one terse line per watch.",
			"Fog rolled in before midnight and swallowed the channel markers one by one.",
			"She would recieve the relief boat's signal at dawn, two short blasts and a long one, if the crossing held.",
			"The clockwork turned the lens with a patience no keeper ever matched.",
			"Nothing occured on the quiet nights, and that was the point of the light.",
		}},
		{"Salt and Ledgers", []string{
			"The harbormaster tallied berth fees at a desk scarred by fifty winters of careless mugs.",
			"Every skipper swore the figures were wrong, and every skipper paid.",
			"He kept seperate books for the fishing fleet and the pleasure craft, a habit the auditors never liked.",
			"Salt worked into everything here, the hinges, the ink, the bread.",
			"A schooner from Halvard Sound came in heavy, her scuppers definately lower than her papers claimed.",
			"By April the ledger held more stories than the tavern did.",
		}},
		{"The Night Ferry", []string{
			"The night ferry left the slip at ten past one, her diesel heartbeat steady against the tide.",
			"Deckhands stacked mail sacks under teh tarpaulin and argued softly about the weather.",
			"Passengers were rare in November, and the purser knew each one by coat.",
			"A lantern swung in the wheelhouse, throwing the compass rose across the captain's face.",
			"The crossing occured in forty minutes on a kind sea and in two hours on an honest one.",
			"No one ever wrote songs about the return leg.",
		}},
		{"Letters from the Mainland", []string{
			"The postmistress sorted envelopes beside a brass chronometer that ran four minutes proud.",
			"Islanders would recieve their letters on Thursdays, weather permitting, which it rarely did.",
			"News of the rail line reached the island twice, once as rumor and once as fact, and no one could seperate the two by then.",
			"A parcel from Copenhagen sat unclaimed all winter, smelling faintly of cloves.",
			"She pinned the storm warnings to the door with the same care she gave wedding invitations.",
			"The mail boat came late and teh whole quay pretended not to care.",
		}},
		{"The Dredger's Song", []string{
			"The dredger worked the channel below the gull rookery, hauling up mud the color of old pewter.",
			"Her crew sang against the winch noise, definately louder than they sang in church.",
			"What the bucket brought up told the harbor's whole history, clay pipes, cannon shot, one porcelain doll.",
			"The engineer kept the boiler at a pressure his manual called unwise.",
			"Spoil barges ran out to the flats on every slack tide.",
			"When the channel shoaled again by autumn, nobody blamed the river for keeping its own books.",
		}},
		{"Winter Moorings", []string{
			"Ice closed the roadstead in January and the boats slept at their moorings like cattle in a byre.",
			"Children held a frost fair on the inner basin, skating between the frozen-in hulls.",
			"The chandler did his best trade in lamp oil and repentance.",
			"Thaw occured all at once, a long groan down the length of the harbor, and every keel remembered the water.",
			"Crews shoveled teh decks clear and argued about who had wintered worst.",
			"By March the ledger opened on a fresh page, and the light at Pelican Point burned for the first boats out.",
		}},
	}

	m := &Manuscript{Name: "The Harbor Ledger"}
	for _, ch := range chapters {
		chapter := E2EChapter{Name: ch.name}
		for _, text := range ch.paras {
			p := E2EParagraph{Text: text, Corrected: expectedCorrection(text)}
			chapter.Paragraphs = append(chapter.Paragraphs, p)
			m.TotalParagraphs++
			if p.Misspelled() {
				m.TotalMisspelled++
			}
		}
		m.Chapters = append(m.Chapters, chapter)
	}
	m.SearchCases = buildSearchCases(m)
	return m
}

func buildSearchCases(m *Manuscript) []SearchCase {
	phrases := []struct {
		query   string
		chapter string
	}{
		{"pelican point", "The Keeper's Watch"},
		{"berth fees", "Salt and Ledgers"},
		{"diesel heartbeat", "The Night Ferry"},
		{"brass chronometer", "Letters from the Mainland"},
		{"gull rookery", "The Dredger's Song"},
		{"frost fair", "Winter Moorings"},
	}
	var cases []SearchCase
	for _, p := range phrases {
		cases = append(cases, SearchCase{
			Query:       p.query,
			Chapter:     p.chapter,
			Description: fmt.Sprintf("query %q should hit chapter %q", p.query, p.chapter),
		})
	}
	return cases
}

// chapterContains reports whether any paragraph of the chapter contains the
// phrase, ignoring case the way the index's analyzer does.
func chapterContains(ch E2EChapter, phrase string) bool {
	needle := strings.ToLower(phrase)
	for _, p := range ch.Paragraphs {
		if strings.Contains(strings.ToLower(p.Text), needle) {
			return true
		}
	}
	return false
}

// Chapter returns the named chapter and whether it exists.
func (m *Manuscript) Chapter(name string) (E2EChapter, bool) {
	for _, ch := range m.Chapters {
		if ch.Name == name {
			return ch, true
		}
	}
	return E2EChapter{}, false
}

// Source renders the manuscript as a Markdown file for the import pipeline.
// Chapter headings become chapters and blank lines separate paragraphs.
func (m *Manuscript) Source() []byte {
	var b strings.Builder
	for _, ch := range m.Chapters {
		fmt.Fprintf(&b, "# %s\n\n", ch.Name)
		for _, p := range ch.Paragraphs {
			b.WriteString(p.Text)
			b.WriteString("\n\n")
		}
	}
	return []byte(b.String())
}

// ProjectInput converts the manuscript to the API's project creation payload.
func (m *Manuscript) ProjectInput() *models.ProjectInput {
	input := &models.ProjectInput{Name: m.Name}
	for _, ch := range m.Chapters {
		chapter := models.ChapterInput{Name: ch.Name}
		for _, p := range ch.Paragraphs {
			chapter.Paragraphs = append(chapter.Paragraphs, models.ParagraphInput{Text: p.Text})
		}
		input.Chapters = append(input.Chapters, chapter)
	}
	return input
}
