package generator

const documentSchemaVersion = "v1.0.0"

type BlockKind string

const (
	BlockHeading BlockKind = "heading"
	BlockEntry   BlockKind = "entry"
)

// Block is one rendered unit of the document body. Work-item blocks carry an
// ItemID; structural headings ("Other", type groups) do not.
type Block struct {
	Kind   BlockKind `json:"kind"`
	Depth  int       `json:"depth"`
	Level  int       `json:"level,omitempty"`
	Anchor string    `json:"anchor"`
	ItemID string    `json:"item_id,omitempty"`
	Type   string    `json:"type,omitempty"`
	Glyph  string    `json:"glyph,omitempty"`
	Icon   string    `json:"icon,omitempty"`
	Title  string    `json:"title"`
	URL    string    `json:"url,omitempty"`
	Text   string    `json:"text,omitempty"`
	// Summarized is true when Text came from the model.
	Summarized bool `json:"summarized,omitempty"`
}

type TOCEntry struct {
	Title  string `json:"title"`
	Anchor string `json:"anchor"`
	Depth  int    `json:"depth"`
}

type DocumentMeta struct {
	Project     string `json:"project"`
	Version     string `json:"version"`
	GeneratedAt string `json:"generated_at"`
	ItemCount   int    `json:"item_count"`
}

// Document is the fully rendered release notes: front matter, table of
// contents and body blocks, in emission order. Sinks serialize it.
type Document struct {
	SchemaVersion      string       `json:"schema_version"`
	Title              string       `json:"title"`
	Summary            string       `json:"summary"`
	SummaryPlaceholder bool         `json:"summary_placeholder"`
	Coverage           string       `json:"coverage"`
	TOC                []TOCEntry   `json:"toc"`
	Blocks             []Block      `json:"blocks"`
	Meta               DocumentMeta `json:"meta"`
}

// Anchors returns every block anchor in document order.
func (d *Document) Anchors() []string {
	out := make([]string, 0, len(d.Blocks))
	for _, b := range d.Blocks {
		out = append(out, b.Anchor)
	}
	return out
}
