package longtermmemory

import (
	"bytes"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

var (
	frontMatterOpen  = []byte("---\n")
	frontMatterClose = []byte("\n---")
)

// Parse decodes a note file: a YAML block between "---" lines followed by
// the note text.
func Parse(raw []byte) (*Note, error) {
	raw = bytes.ReplaceAll(raw, []byte("\r\n"), []byte("\n"))
	rest, ok := bytes.CutPrefix(raw, frontMatterOpen)
	if !ok {
		return nil, errors.New("longtermmemory: missing front-matter delimiter")
	}
	block, body, ok := bytes.Cut(rest, frontMatterClose)
	if !ok {
		return nil, errors.New("longtermmemory: unclosed front-matter block")
	}
	body = bytes.TrimPrefix(body, []byte("\n"))
	body = bytes.TrimPrefix(body, []byte("\n"))

	var meta NoteMeta
	if err := yaml.Unmarshal(block, &meta); err != nil {
		return nil, fmt.Errorf("longtermmemory: front-matter parse error: %w", err)
	}
	return &Note{Meta: meta, Content: string(body)}, nil
}

// Serialize renders a note to its on-disk form.
func Serialize(n *Note) ([]byte, error) {
	meta, err := yaml.Marshal(&n.Meta)
	if err != nil {
		return nil, fmt.Errorf("longtermmemory: serialize error: %w", err)
	}
	var buf bytes.Buffer
	buf.Write(frontMatterOpen)
	buf.Write(meta)
	buf.WriteString("---\n\n")
	buf.WriteString(n.Content)
	return buf.Bytes(), nil
}
