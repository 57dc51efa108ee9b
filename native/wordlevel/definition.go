package wordlevel

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/tidwall/jsonc"
)

// Pre-tokenizer types understood by the engine.
const (
	WhitespaceSplit = "WhitespaceSplit"
	Whitespace      = "Whitespace"
)

// Definition is the subset of the tokenizer.json format the engine reads:
// a WordLevel model, an optional Lowercase normalizer, a Whitespace or
// WhitespaceSplit pre-tokenizer and an optional BertProcessing post-processor.
type Definition struct {
	Vocab        map[string]uint32
	UnkToken     string
	Lowercase    bool
	PreTokenizer string
	// Cls and Sep enable BertProcessing when both are set.
	Cls string
	Sep string
	// Special lists added tokens flagged special, in addition to Cls and Sep.
	Special []string
}

// NewDefinition builds a definition whose vocabulary holds the special tokens
// followed by words, in order, with ids assigned from 0.
func NewDefinition(words ...string) Definition {
	d := Definition{
		Vocab:        make(map[string]uint32, len(words)+3),
		UnkToken:     "[UNK]",
		PreTokenizer: WhitespaceSplit,
		Cls:          "[CLS]",
		Sep:          "[SEP]",
	}
	for _, w := range append([]string{d.UnkToken, d.Cls, d.Sep}, words...) {
		if _, ok := d.Vocab[w]; !ok {
			d.Vocab[w] = uint32(len(d.Vocab))
		}
	}
	return d
}

// JSON renders the definition as a tokenizer.json document.
func (d Definition) JSON() ([]byte, error) {
	doc := document{
		Version: "1.0",
		Model: modelSection{
			Type:     "WordLevel",
			Vocab:    d.Vocab,
			UnkToken: d.UnkToken,
		},
	}
	if d.Lowercase {
		doc.Normalizer = &typedSection{Type: "Lowercase"}
	}
	if d.PreTokenizer != "" {
		doc.PreTokenizer = &typedSection{Type: d.PreTokenizer}
	}

	special := append([]string(nil), d.Special...)
	if d.Cls != "" && d.Sep != "" {
		doc.PostProcessor = &postSection{
			Type: "BertProcessing",
			Cls:  &tokenRef{Token: d.Cls, ID: d.Vocab[d.Cls]},
			Sep:  &tokenRef{Token: d.Sep, ID: d.Vocab[d.Sep]},
		}
		special = append(special, d.Cls, d.Sep)
	}
	if d.UnkToken != "" {
		special = append(special, d.UnkToken)
	}
	seen := make(map[string]bool, len(special))
	for _, s := range special {
		id, ok := d.Vocab[s]
		if !ok || seen[s] {
			continue
		}
		seen[s] = true
		doc.AddedTokens = append(doc.AddedTokens, addedToken{ID: id, Content: s, Special: true})
	}

	return json.Marshal(doc)
}

type document struct {
	Version       string        `json:"version,omitempty"`
	AddedTokens   []addedToken  `json:"added_tokens"`
	Normalizer    *typedSection `json:"normalizer"`
	PreTokenizer  *typedSection `json:"pre_tokenizer"`
	PostProcessor *postSection  `json:"post_processor"`
	Model         modelSection  `json:"model"`
}

type addedToken struct {
	ID      uint32 `json:"id"`
	Content string `json:"content"`
	Special bool   `json:"special"`
}

type typedSection struct {
	Type string `json:"type"`
}

type postSection struct {
	Type string    `json:"type"`
	Cls  *tokenRef `json:"cls,omitempty"`
	Sep  *tokenRef `json:"sep,omitempty"`
}

type modelSection struct {
	Type     string            `json:"type"`
	Vocab    map[string]uint32 `json:"vocab"`
	UnkToken string            `json:"unk_token,omitempty"`
}

// tokenRef is the ["[CLS]", 101] pair used by BertProcessing.
type tokenRef struct {
	Token string
	ID    uint32
}

func (r tokenRef) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{r.Token, r.ID})
}

func (r *tokenRef) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("token reference has %d elements, want 2", len(pair))
	}
	if err := json.Unmarshal(pair[0], &r.Token); err != nil {
		return fmt.Errorf("token reference name: %w", err)
	}
	if err := json.Unmarshal(pair[1], &r.ID); err != nil {
		return fmt.Errorf("token reference id: %w", err)
	}
	return nil
}

// model is a parsed, validated definition ready to encode.
type model struct {
	vocab     map[string]uint32
	reverse   map[uint32]string
	special   map[uint32]bool
	unk       string
	lowercase bool
	split     func(string) []span
	cls, sep  *tokenRef
}

type span struct {
	start, end int
}

func parseModel(data []byte) (*model, error) {
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("definition is not valid UTF-8")
	}

	// Comments and trailing commas are accepted in hand-written definitions.
	var doc document
	if err := json.Unmarshal(jsonc.ToJSON(data), &doc); err != nil {
		return nil, fmt.Errorf("parse definition: %w", err)
	}
	if doc.Model.Type != "WordLevel" {
		return nil, fmt.Errorf("unsupported model type %q", doc.Model.Type)
	}
	if len(doc.Model.Vocab) == 0 {
		return nil, fmt.Errorf("empty vocabulary")
	}

	m := &model{
		vocab:   doc.Model.Vocab,
		reverse: make(map[uint32]string, len(doc.Model.Vocab)+len(doc.AddedTokens)),
		special: make(map[uint32]bool),
		unk:     doc.Model.UnkToken,
		split:   splitWhitespace,
	}
	for tok, id := range doc.Model.Vocab {
		m.reverse[id] = tok
	}
	for _, at := range doc.AddedTokens {
		m.reverse[at.ID] = at.Content
		if _, ok := m.vocab[at.Content]; !ok {
			m.vocab[at.Content] = at.ID
		}
		if at.Special {
			m.special[at.ID] = true
		}
	}

	if doc.Normalizer != nil {
		switch doc.Normalizer.Type {
		case "Lowercase":
			m.lowercase = true
		default:
			return nil, fmt.Errorf("unsupported normalizer %q", doc.Normalizer.Type)
		}
	}

	if doc.PreTokenizer != nil {
		switch doc.PreTokenizer.Type {
		case WhitespaceSplit:
			m.split = splitWhitespace
		case Whitespace:
			m.split = splitWords
		default:
			return nil, fmt.Errorf("unsupported pre-tokenizer %q", doc.PreTokenizer.Type)
		}
	}

	if p := doc.PostProcessor; p != nil {
		if p.Type != "BertProcessing" {
			return nil, fmt.Errorf("unsupported post-processor %q", p.Type)
		}
		if p.Cls == nil || p.Sep == nil {
			return nil, fmt.Errorf("BertProcessing requires cls and sep")
		}
		m.cls, m.sep = p.Cls, p.Sep
		m.special[p.Cls.ID] = true
		m.special[p.Sep.ID] = true
		m.reverse[p.Cls.ID] = p.Cls.Token
		m.reverse[p.Sep.ID] = p.Sep.Token
	}

	return m, nil
}

// splitWhitespace splits on runs of Unicode whitespace.
func splitWhitespace(s string) []span {
	var out []span
	start := -1
	for i, r := range s {
		if unicode.IsSpace(r) {
			if start >= 0 {
				out = append(out, span{start, i})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		out = append(out, span{start, len(s)})
	}
	return out
}

// splitWords splits into runs of word characters and runs of punctuation,
// dropping whitespace.
func splitWords(s string) []span {
	var out []span
	start := -1
	var startWord bool
	for i, r := range s {
		if unicode.IsSpace(r) {
			if start >= 0 {
				out = append(out, span{start, i})
				start = -1
			}
			continue
		}
		word := r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
		if start >= 0 && word != startWord {
			out = append(out, span{start, i})
			start = -1
		}
		if start < 0 {
			start = i
			startWord = word
		}
	}
	if start >= 0 {
		out = append(out, span{start, len(s)})
	}
	return out
}

func (m *model) encode(text string, addSpecial bool) (*encoding, bool) {
	spans := m.split(text)
	n := len(spans)
	if addSpecial && m.cls != nil {
		n += 2
	}
	enc := &encoding{
		ids:       make([]uint32, 0, n),
		tokens:    make([]string, 0, n),
		typeIDs:   make([]uint32, 0, n),
		special:   make([]uint32, 0, n),
		attention: make([]uint32, 0, n),
		offsets:   make([]offset, 0, n),
	}

	if addSpecial && m.cls != nil {
		enc.push(m.cls.ID, m.cls.Token, 1, offset{})
	}
	for _, sp := range spans {
		piece := text[sp.start:sp.end]
		if m.lowercase {
			piece = strings.ToLower(piece)
		}
		id, ok := m.vocab[piece]
		if !ok {
			if m.unk == "" {
				return nil, false
			}
			if id, ok = m.vocab[m.unk]; !ok {
				return nil, false
			}
			piece = m.unk
		}
		enc.push(id, piece, 0, offset{uint64(sp.start), uint64(sp.end)})
	}
	if addSpecial && m.sep != nil {
		enc.push(m.sep.ID, m.sep.Token, 1, offset{})
	}
	return enc, true
}

func (m *model) decode(ids []uint32, skipSpecial bool) (string, bool) {
	if len(ids) == 0 {
		return "", false
	}
	words := make([]string, 0, len(ids))
	for _, id := range ids {
		tok, ok := m.reverse[id]
		if !ok {
			return "", false
		}
		if skipSpecial && m.special[id] {
			continue
		}
		words = append(words, tok)
	}
	return strings.Join(words, " "), true
}

type offset struct {
	start, end uint64
}

type encoding struct {
	ids       []uint32
	tokens    []string
	typeIDs   []uint32
	special   []uint32
	attention []uint32
	offsets   []offset
}

func (e *encoding) push(id uint32, token string, special uint32, off offset) {
	e.ids = append(e.ids, id)
	e.tokens = append(e.tokens, token)
	e.typeIDs = append(e.typeIDs, 0)
	e.special = append(e.special, special)
	e.attention = append(e.attention, 1)
	e.offsets = append(e.offsets, off)
}
