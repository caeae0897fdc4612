package content

// OpType represents the type of a text operation.
type OpType string

const (
	OpInsert  OpType = "insert"
	OpDelete  OpType = "delete"
	OpReplace OpType = "replace"
)

// Operation is a single edit addressed by rune offset into the plain-text
// projection of a document (see PlainText).
type Operation struct {
	Type     OpType `json:"operation"`
	Position int    `json:"position"`
	Content  string `json:"content,omitempty"` // Text to insert (insert, replace)
	Length   int    `json:"length,omitempty"`  // Runes to remove (delete, replace)
}

// NewInsert creates an insert operation.
func NewInsert(position int, text string) Operation {
	return Operation{
		Type:     OpInsert,
		Position: position,
		Content:  text,
	}
}

// NewDelete creates a delete operation removing length runes.
func NewDelete(position, length int) Operation {
	return Operation{
		Type:     OpDelete,
		Position: position,
		Length:   length,
	}
}

// NewReplace creates an operation replacing length runes with text.
func NewReplace(position, length int, text string) Operation {
	return Operation{
		Type:     OpReplace,
		Position: position,
		Content:  text,
		Length:   length,
	}
}

// Validate reports whether the operation is well formed, without
// reference to any document.
func (o Operation) Validate() error {
	switch o.Type {
	case OpInsert, OpDelete, OpReplace:
	default:
		return ErrUnknownOperation
	}

	if o.Position < 0 || o.Length < 0 {
		return ErrInvalidPosition
	}

	return nil
}

// deleteLength is the number of runes the operation removes. A delete
// without a length removes a single rune.
func (o Operation) deleteLength() int {
	switch o.Type {
	case OpDelete:
		if o.Length <= 0 {
			return 1
		}

		return o.Length
	case OpReplace:
		if o.Length < 0 {
			return 0
		}

		return o.Length
	default:
		return 0
	}
}
