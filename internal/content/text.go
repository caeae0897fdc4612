package content

import (
	"errors"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Common errors.
var (
	ErrInvalidPosition  = errors.New("invalid position")
	ErrUnknownOperation = errors.New("unknown operation type")
)

var dmp = diffmatchpatch.New()

func init() {
	dmp.DiffTimeout = 100 * time.Millisecond
}

// cell is a single rune of a text block together with its marks.
type cell struct {
	r     rune
	marks []Mark
}

// shell describes where a text block lives in the tree.
type shell struct {
	block   Node  // Kind and attrs of the text block, without content
	wrapper *Node // Enclosing list or blockquote, nil for top-level blocks
	group   int   // Identifies the enclosing container instance
}

// segment is one text block of the flattened document.
type segment struct {
	shell
	cells []cell
	after []Node // Non-text blocks that follow this segment
}

// flatDoc is the linear view of a document used to apply positional
// operations: text blocks joined by a virtual "\n" separator.
type flatDoc struct {
	leading []Node // Non-text blocks before the first text block
	segs    []*segment
	lastID  int
}

// PlainText returns the text projection that operation positions address:
// the text of every text block, joined with "\n". Images contribute
// nothing.
func PlainText(doc Node) string {
	return flatten(doc).text()
}

// Apply returns the result of applying op to doc. The input tree is not
// modified. On error the original tree is returned unchanged.
func Apply(doc Node, op Operation) (Node, error) {
	f := flatten(doc)

	var err error

	switch op.Type {
	case OpInsert:
		err = f.insert(op.Position, op.Content)
	case OpDelete:
		err = f.delete(op.Position, op.deleteLength())
	case OpReplace:
		if err = f.delete(op.Position, op.deleteLength()); err == nil {
			err = f.insert(op.Position, op.Content)
		}
	default:
		err = ErrUnknownOperation
	}

	if err != nil {
		return doc, err
	}

	return f.rebuild(), nil
}

// ApplyAll applies ops in order, stopping at the first failure.
func ApplyAll(doc Node, ops []Operation) (Node, error) {
	var err error

	for _, op := range ops {
		if doc, err = Apply(doc, op); err != nil {
			return doc, err
		}
	}

	return doc, nil
}

// Diff returns the operations turning the text of before into the text of
// after, to be applied in order. Formatting-only changes yield no
// operations.
func Diff(before, after Node) []Operation {
	diffs := dmp.DiffMainRunes([]rune(PlainText(before)), []rune(PlainText(after)), false)
	diffs = dmp.DiffCleanupSemantic(diffs)

	var ops []Operation

	pos := 0

	for i := 0; i < len(diffs); i++ {
		d := diffs[i]
		n := utf8.RuneCountInString(d.Text)

		switch d.Type {
		case diffmatchpatch.DiffEqual:
			pos += n
		case diffmatchpatch.DiffDelete:
			if i+1 < len(diffs) && diffs[i+1].Type == diffmatchpatch.DiffInsert {
				inserted := diffs[i+1].Text
				ops = append(ops, NewReplace(pos, n, inserted))
				pos += utf8.RuneCountInString(inserted)
				i++

				continue
			}

			ops = append(ops, NewDelete(pos, n))
		case diffmatchpatch.DiffInsert:
			ops = append(ops, NewInsert(pos, d.Text))
			pos += n
		}
	}

	return ops
}

func flatten(doc Node) *flatDoc {
	f := &flatDoc{}

	for _, block := range doc.Content {
		switch block.Type {
		case KindHeading, KindParagraph, KindCodeBlock:
			f.add(shell{block: bare(block), group: f.nextID()}, block.Content)
		case KindBulletList, KindOrderedList:
			if len(block.Content) == 0 {
				f.addAtom(block)

				continue
			}

			wrapper := bare(block)
			group := f.nextID()

			for _, item := range block.Content {
				f.add(shell{block: Paragraph(), wrapper: &wrapper, group: group}, innerRuns(item))
			}
		case KindBlockquote:
			wrapper := bare(block)
			f.add(shell{block: Paragraph(), wrapper: &wrapper, group: f.nextID()}, innerRuns(block))
		default:
			f.addAtom(block)
		}
	}

	return f
}

// innerRuns collects the text runs of a list item or blockquote.
func innerRuns(n Node) []Node {
	var runs []Node

	for _, child := range n.Content {
		if child.Type == KindText {
			runs = append(runs, child)

			continue
		}

		runs = append(runs, innerRuns(child)...)
	}

	return runs
}

func bare(n Node) Node {
	return Node{Type: n.Type, Attrs: n.Attrs}
}

func (f *flatDoc) nextID() int {
	f.lastID++

	return f.lastID
}

func (f *flatDoc) add(sh shell, runs []Node) {
	seg := &segment{shell: sh}

	for _, run := range runs {
		for _, r := range run.Text {
			seg.cells = append(seg.cells, cell{r: r, marks: run.Marks})
		}
	}

	f.segs = append(f.segs, seg)
}

func (f *flatDoc) addAtom(n Node) {
	if len(f.segs) == 0 {
		f.leading = append(f.leading, n)

		return
	}

	last := f.segs[len(f.segs)-1]
	last.after = append(last.after, n)
}

func (f *flatDoc) length() int {
	if len(f.segs) == 0 {
		return 0
	}

	total := len(f.segs) - 1
	for _, s := range f.segs {
		total += len(s.cells)
	}

	return total
}

func (f *flatDoc) text() string {
	var b strings.Builder

	for i, s := range f.segs {
		if i > 0 {
			b.WriteByte('\n')
		}

		for _, c := range s.cells {
			b.WriteRune(c.r)
		}
	}

	return b.String()
}

// locate maps a text position to a segment index and an offset within it.
func (f *flatDoc) locate(pos int) (int, int, error) {
	if pos < 0 {
		return 0, 0, ErrInvalidPosition
	}

	if len(f.segs) == 0 && pos == 0 {
		f.segs = append(f.segs, &segment{shell: shell{block: Paragraph(), group: f.nextID()}})
	}

	for i, s := range f.segs {
		if pos <= len(s.cells) {
			return i, pos, nil
		}

		pos -= len(s.cells) + 1
	}

	return 0, 0, ErrInvalidPosition
}

func (f *flatDoc) insert(pos int, text string) error {
	i, off, err := f.locate(pos)
	if err != nil {
		return err
	}

	seg := f.segs[i]
	marks := inheritedMarks(seg, off)

	for _, r := range text {
		if r == '\n' && seg.block.Type != KindCodeBlock {
			f.split(i, off)
			i++
			seg = f.segs[i]
			off = 0

			continue
		}

		seg.cells = slices.Insert(seg.cells, off, cell{r: r, marks: marks})
		off++
	}

	return nil
}

func (f *flatDoc) delete(pos, n int) error {
	if pos < 0 || n < 0 || pos+n > f.length() {
		return ErrInvalidPosition
	}

	for n > 0 {
		i, off, err := f.locate(pos)
		if err != nil {
			return err
		}

		seg := f.segs[i]

		if off < len(seg.cells) {
			count := min(n, len(seg.cells)-off)
			seg.cells = slices.Delete(seg.cells, off, off+count)
			n -= count

			continue
		}

		f.join(i)
		n--
	}

	return nil
}

// split breaks segment i at offset at. A split list item stays in its
// list; any other block becomes a new sibling block of the same kind.
func (f *flatDoc) split(i, at int) {
	seg := f.segs[i]

	next := &segment{
		shell: seg.shell,
		cells: slices.Clone(seg.cells[at:]),
		after: seg.after,
	}

	if seg.wrapper == nil || seg.wrapper.Type == KindBlockquote {
		next.group = f.nextID()
	}

	seg.cells = seg.cells[:at:at]
	seg.after = nil
	f.segs = slices.Insert(f.segs, i+1, next)
}

// join merges segment i+1 into segment i.
func (f *flatDoc) join(i int) {
	seg, next := f.segs[i], f.segs[i+1]
	seg.cells = append(seg.cells, next.cells...)
	seg.after = append(seg.after, next.after...)
	f.segs = slices.Delete(f.segs, i+1, i+2)
}

func inheritedMarks(seg *segment, off int) []Mark {
	if seg.block.Type == KindCodeBlock {
		return nil
	}

	switch {
	case off > 0:
		return seg.cells[off-1].marks
	case len(seg.cells) > 0:
		return seg.cells[0].marks
	default:
		return nil
	}
}

func (f *flatDoc) rebuild() Node {
	blocks := slices.Clone(f.leading)

	for i := 0; i < len(f.segs); {
		seg := f.segs[i]

		switch {
		case seg.wrapper != nil && isList(seg.wrapper.Type):
			items := []Node{ListItem(seg.node())}
			j := i + 1

			for j < len(f.segs) && len(f.segs[j-1].after) == 0 && sameList(seg, f.segs[j]) {
				items = append(items, ListItem(f.segs[j].node()))
				j++
			}

			list := bare(*seg.wrapper)
			list.Content = items
			blocks = append(blocks, list)
			blocks = append(blocks, f.segs[j-1].after...)
			i = j

			continue
		case seg.wrapper != nil:
			blocks = append(blocks, Blockquote(seg.node()))
		default:
			blocks = append(blocks, seg.node())
		}

		blocks = append(blocks, seg.after...)
		i++
	}

	if len(blocks) == 0 {
		return EmptyDoc()
	}

	return Doc(blocks...)
}

func isList(kind Kind) bool {
	return kind == KindBulletList || kind == KindOrderedList
}

func sameList(a, b *segment) bool {
	return b.wrapper != nil && b.wrapper.Type == a.wrapper.Type && b.group == a.group
}

// node rebuilds the text block, grouping runes with identical marks into
// runs.
func (s *segment) node() Node {
	n := s.block

	if s.block.Type == KindCodeBlock {
		var b strings.Builder
		for _, c := range s.cells {
			b.WriteRune(c.r)
		}

		if b.Len() > 0 {
			n.Content = []Node{{Type: KindText, Text: b.String()}}
		}

		return n
	}

	var (
		runs []Node
		b    strings.Builder
	)

	for i, c := range s.cells {
		if i > 0 && !sameMarks(s.cells[i-1].marks, c.marks) {
			runs = append(runs, Text(b.String(), s.cells[i-1].marks...))
			b.Reset()
		}

		b.WriteRune(c.r)
	}

	if b.Len() > 0 {
		runs = append(runs, Text(b.String(), s.cells[len(s.cells)-1].marks...))
	}

	n.Content = runs

	return n
}
