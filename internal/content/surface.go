package content

import (
	"sort"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Element is a node of the editable surface: an HTML-like element tree.
// Text nodes have an empty Tag.
type Element struct {
	Tag      string
	Attrs    map[string]string
	Children []*Element
	Text     string
}

// rootTag is the tag of the container returned by Encode and ParseHTML.
const rootTag = "div"

var voidTags = map[string]bool{"br": true, "img": true}

var inlineTags = map[string]bool{
	"strong": true, "b": true, "em": true, "i": true, "u": true,
	"s": true, "strike": true, "del": true, "code": true, "span": true,
	"a": true, "mark": true, "sub": true, "sup": true, "br": true,
}

// skippedTags never contribute content.
var skippedTags = map[string]bool{
	"script": true, "style": true, "template": true, "head": true, "title": true,
}

func textElement(text string) *Element {
	return &Element{Text: text}
}

func element(tag string, children ...*Element) *Element {
	return &Element{Tag: tag, Children: children}
}

// Encode renders a document tree into its editable surface.
func Encode(doc Node) *Element {
	root := element(rootTag)

	for _, block := range doc.Content {
		if el := encodeBlock(block); el != nil {
			root.Children = append(root.Children, el)
		}
	}

	return root
}

func encodeBlock(n Node) *Element {
	switch n.Type {
	case KindHeading:
		level := 1
		if n.Attrs != nil {
			level = clampLevel(n.Attrs.Level)
		}

		return withLineBreak(element("h"+strconv.Itoa(level), encodeInline(n.Content)...))
	case KindParagraph:
		return withLineBreak(element("p", encodeInline(n.Content)...))
	case KindBulletList, KindOrderedList:
		tag := "ul"
		if n.Type == KindOrderedList {
			tag = "ol"
		}

		list := element(tag)

		for _, item := range n.Content {
			if el := encodeBlock(item); el != nil {
				list.Children = append(list.Children, el)
			}
		}

		return list
	case KindListItem, KindBlockquote:
		tag := "li"
		if n.Type == KindBlockquote {
			tag = "blockquote"
		}

		wrapper := element(tag)

		for _, child := range n.Content {
			if el := encodeBlock(child); el != nil {
				wrapper.Children = append(wrapper.Children, el)
			}
		}

		return wrapper
	case KindCodeBlock:
		code := element("code")
		if n.Attrs != nil && n.Attrs.Language != "" {
			code.Attrs = map[string]string{"class": "language-" + n.Attrs.Language}
		}

		if text := inlineText(n.Content); text != "" {
			code.Children = []*Element{textElement(text)}
		}

		return element("pre", code)
	case KindImage:
		img := element("img")
		img.Attrs = map[string]string{}

		if n.Attrs != nil {
			img.Attrs["src"] = n.Attrs.Src
			img.Attrs["alt"] = n.Attrs.Alt

			if n.Attrs.Width > 0 {
				img.Attrs["width"] = strconv.Itoa(n.Attrs.Width)
			}

			if n.Attrs.Height > 0 {
				img.Attrs["height"] = strconv.Itoa(n.Attrs.Height)
			}
		}

		return img
	default:
		return nil
	}
}

// withLineBreak keeps empty text blocks positionally present and editable.
func withLineBreak(el *Element) *Element {
	if len(el.Children) == 0 {
		el.Children = []*Element{element("br")}
	}

	return el
}

func encodeInline(runs []Node) []*Element {
	out := make([]*Element, 0, len(runs))

	for _, run := range runs {
		if run.Type != KindText || run.Text == "" {
			continue
		}

		el := textElement(run.Text)
		marks := sortMarks(run.Marks)

		for i := len(marks) - 1; i >= 0; i-- {
			el = markElement(marks[i], el)
		}

		out = append(out, el)
	}

	return out
}

func markElement(m Mark, child *Element) *Element {
	switch m.Type {
	case MarkBold:
		return element("strong", child)
	case MarkItalic:
		return element("em", child)
	case MarkUnderline:
		return element("u", child)
	case MarkStrike:
		return element("s", child)
	case MarkCode:
		return element("code", child)
	case MarkTextStyle:
		span := element("span", child)
		span.Attrs = map[string]string{"style": formatStyle(m.Attrs)}

		return span
	default:
		return child
	}
}

func formatStyle(attrs *MarkAttrs) string {
	if attrs == nil {
		return ""
	}

	var parts []string
	if attrs.Color != "" {
		parts = append(parts, "color: "+attrs.Color)
	}

	if attrs.BackgroundColor != "" {
		parts = append(parts, "background-color: "+attrs.BackgroundColor)
	}

	return strings.Join(parts, "; ")
}

func parseStyle(style string) *MarkAttrs {
	attrs := MarkAttrs{}

	for _, decl := range strings.Split(style, ";") {
		name, value, ok := strings.Cut(decl, ":")
		if !ok {
			continue
		}

		value = strings.TrimSpace(value)

		switch strings.ToLower(strings.TrimSpace(name)) {
		case "color":
			attrs.Color = value
		case "background-color", "background":
			attrs.BackgroundColor = value
		}
	}

	if attrs == (MarkAttrs{}) {
		return nil
	}

	return &attrs
}

// Render serializes the children of a surface root as HTML. The output is
// deterministic: attributes are written in sorted order.
func Render(root *Element) string {
	if root == nil {
		return ""
	}

	var b strings.Builder
	for _, child := range root.Children {
		renderElement(&b, child)
	}

	return b.String()
}

func renderElement(b *strings.Builder, el *Element) {
	if el.Tag == "" {
		b.WriteString(html.EscapeString(el.Text))

		return
	}

	b.WriteByte('<')
	b.WriteString(el.Tag)

	keys := make([]string, 0, len(el.Attrs))
	for k := range el.Attrs {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	for _, k := range keys {
		b.WriteString(" " + k + `="` + html.EscapeString(el.Attrs[k]) + `"`)
	}

	b.WriteByte('>')

	if voidTags[el.Tag] {
		return
	}

	for _, child := range el.Children {
		renderElement(b, child)
	}

	b.WriteString("</" + el.Tag + ">")
}

// ParseHTML builds a surface from an HTML fragment. Malformed markup is
// repaired by the HTML parser; a read failure yields an empty surface.
func ParseHTML(fragment string) *Element {
	root := element(rootTag)
	context := &html.Node{Type: html.ElementNode, Data: rootTag, DataAtom: atom.Div}

	nodes, err := html.ParseFragment(strings.NewReader(fragment), context)
	if err != nil {
		return root
	}

	for _, n := range nodes {
		if el := fromHTML(n); el != nil {
			root.Children = append(root.Children, el)
		}
	}

	return root
}

func fromHTML(n *html.Node) *Element {
	switch n.Type {
	case html.TextNode:
		return textElement(n.Data)
	case html.ElementNode:
		el := element(strings.ToLower(n.Data))

		if len(n.Attr) > 0 {
			el.Attrs = make(map[string]string, len(n.Attr))
			for _, a := range n.Attr {
				el.Attrs[strings.ToLower(a.Key)] = a.Val
			}
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if child := fromHTML(c); child != nil {
				el.Children = append(el.Children, child)
			}
		}

		return el
	default:
		return nil
	}
}

// Decode converts a surface back into a document tree. Unknown elements
// are skipped and stray inline content at block level becomes a
// paragraph. Decode never fails; a surface without blocks decodes to a
// single empty paragraph.
func Decode(root *Element) Node {
	if root == nil {
		return EmptyDoc()
	}

	blocks := decodeBlocks(root.Children)
	if len(blocks) == 0 {
		return EmptyDoc()
	}

	return Doc(blocks...)
}

func decodeBlocks(children []*Element) []Node {
	var (
		blocks []Node
		stray  []Node
	)

	flush := func() {
		for len(stray) > 0 && strings.TrimSpace(stray[len(stray)-1].Text) == "" {
			stray = stray[:len(stray)-1]
		}

		if len(stray) > 0 {
			blocks = append(blocks, Paragraph(stray...))
		}

		stray = nil
	}

	for _, child := range children {
		if child == nil {
			continue
		}

		switch {
		case child.Tag == "":
			if len(stray) == 0 && strings.TrimSpace(child.Text) == "" {
				continue
			}

			stray = append(stray, Text(child.Text))
		case inlineTags[child.Tag]:
			collectInline(&Element{Children: []*Element{child}}, nil, &stray)
		default:
			flush()

			blocks = append(blocks, decodeBlock(child)...)
		}
	}

	flush()

	return blocks
}

func decodeBlock(el *Element) []Node {
	switch el.Tag {
	case "h1", "h2", "h3", "h4", "h5", "h6":
		level, _ := strconv.Atoi(el.Tag[1:])

		return []Node{Heading(level, decodeInline(el)...)}
	case "p":
		return []Node{Paragraph(decodeInline(el)...)}
	case "ul", "ol":
		var items []Node

		for _, child := range el.Children {
			if child.Tag == "li" {
				items = append(items, ListItem(paragraphOf(child)))
			}
		}

		if len(items) == 0 {
			return nil
		}

		if el.Tag == "ol" {
			return []Node{OrderedList(items...)}
		}

		return []Node{BulletList(items...)}
	case "li":
		return []Node{BulletList(ListItem(paragraphOf(el)))}
	case "blockquote":
		return []Node{Blockquote(paragraphOf(el))}
	case "pre":
		return []Node{CodeBlock(codeLanguage(el), textContent(el))}
	case "img":
		return []Node{decodeImage(el)}
	case "div", "section", "article", "main", "body":
		return decodeBlocks(el.Children)
	default:
		return nil
	}
}

func decodeImage(el *Element) Node {
	width, _ := strconv.Atoi(el.Attrs["width"])
	height, _ := strconv.Atoi(el.Attrs["height"])

	return Image(el.Attrs["src"], el.Attrs["alt"], width, height)
}

// paragraphOf flattens the inline content of a list item or blockquote,
// including any paragraphs it wraps, into a single paragraph.
func paragraphOf(el *Element) Node {
	var runs []Node

	for _, child := range el.Children {
		if child.Tag == "p" {
			runs = append(runs, decodeInline(child)...)

			continue
		}

		if child.Tag == "" && strings.TrimSpace(child.Text) == "" {
			continue
		}

		collectInline(&Element{Children: []*Element{child}}, nil, &runs)
	}

	return Paragraph(runs...)
}

func codeLanguage(pre *Element) string {
	if lang := pre.Attrs["data-language"]; lang != "" {
		return lang
	}

	for _, child := range pre.Children {
		if child.Tag != "code" {
			continue
		}

		for _, class := range strings.Fields(child.Attrs["class"]) {
			if lang, ok := strings.CutPrefix(class, "language-"); ok {
				return lang
			}
		}
	}

	return ""
}

func textContent(el *Element) string {
	if el.Tag == "" {
		return el.Text
	}

	var b strings.Builder
	for _, child := range el.Children {
		b.WriteString(textContent(child))
	}

	return b.String()
}

func decodeInline(el *Element) []Node {
	var runs []Node

	collectInline(el, nil, &runs)

	return runs
}

// collectInline appends a text run for every text node below el, with the
// marks of its known mark-bearing ancestors.
func collectInline(el *Element, marks []Mark, out *[]Node) {
	for _, child := range el.Children {
		if child.Tag == "" {
			if child.Text != "" {
				*out = append(*out, Text(child.Text, marks...))
			}

			continue
		}

		if skippedTags[child.Tag] || voidTags[child.Tag] {
			continue
		}

		collectInline(child, withMark(marks, markOf(child)), out)
	}
}

func markOf(el *Element) *Mark {
	var m Mark

	switch el.Tag {
	case "strong", "b":
		m = Bold()
	case "em", "i":
		m = Italic()
	case "u":
		m = Underline()
	case "s", "strike", "del":
		m = Strike()
	case "code":
		m = Code()
	case "span":
		attrs := parseStyle(el.Attrs["style"])
		if attrs == nil {
			return nil
		}

		m = Mark{Type: MarkTextStyle, Attrs: attrs}
	default:
		return nil
	}

	return &m
}

// withMark returns marks plus m. An inner textStyle overrides the colors
// it sets on an outer one.
func withMark(marks []Mark, m *Mark) []Mark {
	if m == nil {
		return marks
	}

	out := cloneMarks(marks)

	for i, existing := range out {
		if existing.Type != m.Type {
			continue
		}

		if m.Type == MarkTextStyle && existing.Attrs != nil && m.Attrs != nil {
			merged := *existing.Attrs
			if m.Attrs.Color != "" {
				merged.Color = m.Attrs.Color
			}

			if m.Attrs.BackgroundColor != "" {
				merged.BackgroundColor = m.Attrs.BackgroundColor
			}

			out[i].Attrs = &merged
		}

		return out
	}

	return append(out, *m)
}

func inlineText(runs []Node) string {
	var b strings.Builder
	for _, run := range runs {
		b.WriteString(run.Text)
	}

	return b.String()
}
