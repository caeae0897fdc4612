package content

import (
	"bytes"
	"encoding/json"
)

// Kind identifies the type of a node in a document tree.
type Kind string

const (
	KindDoc         Kind = "doc"
	KindHeading     Kind = "heading"
	KindParagraph   Kind = "paragraph"
	KindBulletList  Kind = "bullet_list"
	KindOrderedList Kind = "ordered_list"
	KindListItem    Kind = "list_item"
	KindBlockquote  Kind = "blockquote"
	KindCodeBlock   Kind = "code_block"
	KindImage       Kind = "image"
	KindText        Kind = "text"
)

// MarkType identifies an inline formatting mark.
type MarkType string

const (
	MarkBold      MarkType = "bold"
	MarkItalic    MarkType = "italic"
	MarkUnderline MarkType = "underline"
	MarkStrike    MarkType = "strike"
	MarkCode      MarkType = "code"
	MarkTextStyle MarkType = "textStyle"
)

// markOrder is the nesting order used when rendering marks, outermost first.
var markOrder = map[MarkType]int{
	MarkTextStyle: 0,
	MarkBold:      1,
	MarkItalic:    2,
	MarkUnderline: 3,
	MarkStrike:    4,
	MarkCode:      5,
}

// MarkAttrs carries the optional colors of a textStyle mark.
type MarkAttrs struct {
	Color           string `json:"color,omitempty"`
	BackgroundColor string `json:"backgroundColor,omitempty"`
}

// Mark is a formatting mark applied to a text run.
type Mark struct {
	Type  MarkType   `json:"type"`
	Attrs *MarkAttrs `json:"attrs,omitempty"`
}

// Attrs holds the per-kind attributes of a node. Only the fields relevant
// to the node kind are set.
type Attrs struct {
	Level    int    `json:"level,omitempty"`
	Language string `json:"language,omitempty"`
	Src      string `json:"src,omitempty"`
	Alt      string `json:"alt,omitempty"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
}

// Node is a single node of a document tree. The root node has KindDoc.
//
// Trees are treated as immutable values: functions in this package never
// modify their inputs, and callers sharing a tree must not modify it either.
type Node struct {
	Type    Kind   `json:"type"`
	Attrs   *Attrs `json:"attrs,omitempty"`
	Content []Node `json:"content,omitempty"`
	Text    string `json:"text,omitempty"`
	Marks   []Mark `json:"marks,omitempty"`
}

// Doc creates a document root with the given block children.
func Doc(blocks ...Node) Node {
	return Node{Type: KindDoc, Content: blocks}
}

// EmptyDoc returns a document holding a single empty paragraph.
func EmptyDoc() Node {
	return Doc(Paragraph())
}

// Paragraph creates a paragraph from inline text runs.
func Paragraph(inline ...Node) Node {
	return Node{Type: KindParagraph, Content: inline}
}

// Heading creates a heading of the given level (clamped to 1-6).
func Heading(level int, inline ...Node) Node {
	return Node{Type: KindHeading, Attrs: &Attrs{Level: clampLevel(level)}, Content: inline}
}

// BulletList creates an unordered list from list items.
func BulletList(items ...Node) Node {
	return Node{Type: KindBulletList, Content: items}
}

// OrderedList creates an ordered list from list items.
func OrderedList(items ...Node) Node {
	return Node{Type: KindOrderedList, Content: items}
}

// ListItem wraps a paragraph in a list item.
func ListItem(paragraph Node) Node {
	return Node{Type: KindListItem, Content: []Node{paragraph}}
}

// Blockquote wraps a paragraph in a blockquote.
func Blockquote(paragraph Node) Node {
	return Node{Type: KindBlockquote, Content: []Node{paragraph}}
}

// CodeBlock creates a code block holding plain text.
func CodeBlock(language, text string) Node {
	n := Node{Type: KindCodeBlock}
	if language != "" {
		n.Attrs = &Attrs{Language: language}
	}

	if text != "" {
		n.Content = []Node{{Type: KindText, Text: text}}
	}

	return n
}

// Image creates an image node.
func Image(src, alt string, width, height int) Node {
	return Node{Type: KindImage, Attrs: &Attrs{Src: src, Alt: alt, Width: width, Height: height}}
}

// Text creates an inline text run.
func Text(text string, marks ...Mark) Node {
	return Node{Type: KindText, Text: text, Marks: sortMarks(marks)}
}

// Bold, Italic, Underline, Strike and Code return the simple marks.
func Bold() Mark      { return Mark{Type: MarkBold} }
func Italic() Mark    { return Mark{Type: MarkItalic} }
func Underline() Mark { return Mark{Type: MarkUnderline} }
func Strike() Mark    { return Mark{Type: MarkStrike} }
func Code() Mark      { return Mark{Type: MarkCode} }

// Color returns a textStyle mark with foreground and background colors.
// Either may be empty.
func Color(fg, bg string) Mark {
	return Mark{Type: MarkTextStyle, Attrs: &MarkAttrs{Color: fg, BackgroundColor: bg}}
}

// Canonical returns the canonical JSON serialization of a tree.
// Two trees are structurally equal iff their canonical forms are equal.
func Canonical(n Node) []byte {
	data, err := json.Marshal(n)
	if err != nil {
		// Node holds only strings, ints and slices of itself.
		return nil
	}

	return data
}

// Equal reports whether two trees are structurally equal.
func Equal(a, b Node) bool {
	return bytes.Equal(Canonical(a), Canonical(b))
}

// Clone returns a deep copy of the tree.
func Clone(n Node) Node {
	out := n

	if n.Attrs != nil {
		attrs := *n.Attrs
		out.Attrs = &attrs
	}

	if n.Marks != nil {
		out.Marks = cloneMarks(n.Marks)
	}

	if n.Content != nil {
		out.Content = make([]Node, len(n.Content))
		for i, child := range n.Content {
			out.Content[i] = Clone(child)
		}
	}

	return out
}

// IsEmpty reports whether a tree has no content: no blocks at all, or only
// paragraphs without any text.
func IsEmpty(doc Node) bool {
	for _, block := range doc.Content {
		if block.Type != KindParagraph {
			return false
		}

		for _, inline := range block.Content {
			if inline.Text != "" {
				return false
			}
		}
	}

	return true
}

// Normalize converts raw stored or transmitted content into a document
// tree. Anything that is not a JSON object describing a doc node yields a
// single empty paragraph document, regardless of the document type.
func Normalize(raw json.RawMessage) Node {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return EmptyDoc()
	}

	var doc Node
	if err := json.Unmarshal(trimmed, &doc); err != nil || doc.Type != KindDoc {
		return EmptyDoc()
	}

	if len(doc.Content) == 0 {
		return EmptyDoc()
	}

	return doc
}

func cloneMarks(marks []Mark) []Mark {
	out := make([]Mark, len(marks))

	for i, m := range marks {
		out[i] = m
		if m.Attrs != nil {
			attrs := *m.Attrs
			out[i].Attrs = &attrs
		}
	}

	return out
}

// sortMarks returns the marks in canonical nesting order without
// duplicates. The input is not modified.
func sortMarks(marks []Mark) []Mark {
	if len(marks) == 0 {
		return nil
	}

	out := make([]Mark, 0, len(marks))
	seen := make(map[MarkType]bool, len(marks))

	for _, m := range cloneMarks(marks) {
		if _, known := markOrder[m.Type]; !known || seen[m.Type] {
			continue
		}

		// A textStyle mark without colors renders as nothing.
		if m.Type == MarkTextStyle && (m.Attrs == nil || *m.Attrs == (MarkAttrs{})) {
			continue
		}

		seen[m.Type] = true
		out = append(out, m)
	}

	// Insertion sort: at most six marks.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && markOrder[out[j].Type] < markOrder[out[j-1].Type]; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}

	if len(out) == 0 {
		return nil
	}

	return out
}

func sameMarks(a, b []Mark) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i].Type != b[i].Type {
			return false
		}

		var ac, bc MarkAttrs
		if a[i].Attrs != nil {
			ac = *a[i].Attrs
		}

		if b[i].Attrs != nil {
			bc = *b[i].Attrs
		}

		if ac != bc {
			return false
		}
	}

	return true
}

func clampLevel(level int) int {
	switch {
	case level < 1:
		return 1
	case level > 6:
		return 6
	default:
		return level
	}
}
