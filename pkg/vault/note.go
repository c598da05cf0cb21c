package vault

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/harrisonrobin/taskmerge/pkg/model"
)

var errNoFrontMatter = errors.New("note has no front matter")

// frontMatter is the YAML header of a task note.
type frontMatter struct {
	ID           string `yaml:"id,omitempty"`
	model.Fields `yaml:",inline"`
	Owner        string            `yaml:"owner,omitempty"`
	Keys         map[string]string `yaml:"keys,omitempty"`
	URL          string            `yaml:"url,omitempty"`
	Created      *time.Time        `yaml:"created,omitempty"`
}

// Note is a parsed task note. Body is everything after the front matter, kept verbatim.
type Note struct {
	Meta frontMatter
	Body []byte
}

// ParseNote splits a note into front matter and body.
func ParseNote(data []byte) (Note, error) {
	head, body, err := splitFrontMatter(data)
	if err != nil {
		return Note{}, err
	}
	var n Note
	if err := yaml.Unmarshal(head, &n.Meta); err != nil {
		return Note{}, fmt.Errorf("failed to decode front matter: %w", err)
	}
	n.Body = body
	return n, nil
}

// Render writes the note back out.
func (n Note) Render() ([]byte, error) {
	head, err := yaml.Marshal(n.Meta)
	if err != nil {
		return nil, fmt.Errorf("failed to encode front matter: %w", err)
	}
	var buf bytes.Buffer
	buf.WriteString("---\n")
	buf.Write(head)
	buf.WriteString("---\n")
	buf.Write(n.Body)
	return buf.Bytes(), nil
}

// IsTask reports whether the note describes a task. Notes without a title are plain notes.
func (n Note) IsTask() bool {
	return n.Meta.Title != ""
}

func (n Note) pending(key string) model.Pending {
	keys := make(map[string]string, len(n.Meta.Keys))
	for src, k := range n.Meta.Keys {
		if src != SourceID {
			keys[src] = k
		}
	}
	p := model.Pending{
		NaturalKey: key,
		KnownID:    n.Meta.ID,
		Fields:     n.Meta.Fields.Clone(),
		Owner:      n.Meta.Owner,
		Keys:       keys,
		URL:        n.Meta.URL,
	}
	if n.Meta.Created != nil {
		p.CreatedAt = n.Meta.Created.UTC()
	}
	return p
}

func splitFrontMatter(data []byte) (head, body []byte, err error) {
	s := strings.ReplaceAll(string(data), "\r\n", "\n")
	if !strings.HasPrefix(s, "---\n") {
		return nil, nil, errNoFrontMatter
	}
	rest := s[len("---\n"):]
	if strings.HasPrefix(rest, "---\n") {
		return nil, []byte(rest[len("---\n"):]), nil
	}
	end := strings.Index(rest, "\n---\n")
	if end < 0 {
		if strings.HasSuffix(rest, "\n---") {
			return []byte(strings.TrimSuffix(rest, "---")), nil, nil
		}
		return nil, nil, errNoFrontMatter
	}
	return []byte(rest[:end+1]), []byte(rest[end+len("\n---\n"):]), nil
}
