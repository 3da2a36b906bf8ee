package generator

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/document.schema.json
var documentSchemaJSON []byte

const documentSchemaURL = "document.schema.json"

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

// JSONSink writes the document model as JSON after validating it against the
// embedded schema.
type JSONSink struct {
	Path string
}

func NewJSONSink(dir string) *JSONSink {
	return &JSONSink{Path: filepath.Join(dir, "doc_model.json")}
}

func (s *JSONSink) Write(ctx context.Context, doc *Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return SaveDocument(s.Path, doc)
}

func LoadDocument(path string) (*Document, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var d Document
	if err := json.Unmarshal(b, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func SaveDocument(path string, doc *Document) error {
	if err := validateDocumentWithSchema(doc); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	return os.WriteFile(path, b, 0644)
}

// Validate checks invariants the schema cannot express: anchors are unique and
// the table of contents lists exactly the body blocks, in order.
func (d *Document) Validate() error {
	if d == nil {
		return fmt.Errorf("document is nil")
	}
	if d.SchemaVersion == "" {
		return fmt.Errorf("schema_version is required")
	}
	seen := make(map[string]bool, len(d.Blocks))
	for _, b := range d.Blocks {
		if b.Anchor == "" {
			return fmt.Errorf("block %q has no anchor", b.Title)
		}
		if seen[b.Anchor] {
			return fmt.Errorf("duplicate anchor: %s", b.Anchor)
		}
		seen[b.Anchor] = true
	}
	if len(d.TOC) != len(d.Blocks) {
		return fmt.Errorf("toc has %d entries for %d blocks", len(d.TOC), len(d.Blocks))
	}
	for i, e := range d.TOC {
		if e.Anchor != d.Blocks[i].Anchor {
			return fmt.Errorf("toc entry %d points to %s, expected %s", i, e.Anchor, d.Blocks[i].Anchor)
		}
	}
	return nil
}

func validateDocumentWithSchema(doc *Document) error {
	if err := doc.Validate(); err != nil {
		return err
	}

	schema, err := loadCompiledSchema()
	if err != nil {
		return fmt.Errorf("failed to compile document schema: %w", err)
	}

	var v any
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal document for schema validation: %w", err)
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("failed to normalize document for schema validation: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("document schema validation failed: %w", err)
	}
	return nil
}

func loadCompiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(documentSchemaURL, bytes.NewReader(documentSchemaJSON)); err != nil {
			schemaErr = err
			return
		}
		compiledSchema, schemaErr = compiler.Compile(documentSchemaURL)
	})
	return compiledSchema, schemaErr
}
