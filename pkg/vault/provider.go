package vault

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/harrisonrobin/taskmerge/pkg/crosssync"
	"github.com/harrisonrobin/taskmerge/pkg/model"
)

// Provider exposes note fields to the cross-source pass.
type Provider struct {
	vault *Vault
	keys  crosssync.KeyResolver
}

func NewProvider(v *Vault, keys crosssync.KeyResolver) *Provider {
	return &Provider{vault: v, keys: keys}
}

func (p *Provider) SourceID() string { return SourceID }

func (p *Provider) CanHandle(task model.Task) bool {
	_, ok := task.KeyFor(SourceID)
	return ok
}

// ReadFields returns the note's fields, stamped with the file's modification time.
func (p *Provider) ReadFields(_ context.Context, id string) (*model.FieldView, error) {
	key, ok := p.keys.NaturalKey(SourceID, id)
	if !ok {
		return nil, nil
	}
	path := p.vault.path(key)
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	n, err := readNote(path)
	if err != nil {
		return nil, err
	}
	return &model.FieldView{Fields: n.Meta.Fields.Clone(), ModifiedAt: info.ModTime()}, nil
}

// WriteFields replaces the note's fields. Identity, provenance and body are left untouched.
func (p *Provider) WriteFields(_ context.Context, id string, view model.FieldView) error {
	key, ok := p.keys.NaturalKey(SourceID, id)
	if !ok {
		return fmt.Errorf("task %s has no %s key", id, SourceID)
	}
	path := p.vault.path(key)

	p.vault.mu.Lock()
	defer p.vault.mu.Unlock()
	n, err := readNote(path)
	if err != nil {
		return err
	}
	n.Meta.Fields = view.Fields.Clone()
	if n.Meta.ID == "" {
		n.Meta.ID = id
	}
	return writeNote(path, n)
}

// Import writes a note for a task that lives in another source. The note carries the task id
// and keys, so the next vault load folds it into the existing task. It returns the note's key.
func (v *Vault) Import(task model.Task) (string, error) {
	if key, ok := task.KeyFor(SourceID); ok {
		return key, nil
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := os.MkdirAll(v.root, 0700); err != nil {
		return "", err
	}
	path, err := v.freePath(slug(task.Title))
	if err != nil {
		return "", err
	}
	n := Note{Meta: frontMatter{
		ID:     task.ID,
		Fields: task.Fields.Clone(),
		Owner:  task.Source.Extension,
		Keys:   model.MergeKeys(task.Source.Keys),
		URL:    task.Source.URL,
	}}
	if !task.CreatedAt.IsZero() {
		created := task.CreatedAt.UTC()
		n.Meta.Created = &created
	}
	if err := writeNote(path, n); err != nil {
		return "", err
	}
	return v.key(path)
}

func (v *Vault) freePath(base string) (string, error) {
	for i := 0; i < 1000; i++ {
		name := base + noteExt
		if i > 0 {
			name = fmt.Sprintf("%s-%d%s", base, i, noteExt)
		}
		path := filepath.Join(v.root, name)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return path, nil
		}
	}
	return "", fmt.Errorf("no free note name for %q", base)
}

var slugRegex = regexp.MustCompile(`[^a-z0-9]+`)

func slug(title string) string {
	s := strings.Trim(slugRegex.ReplaceAllString(strings.ToLower(title), "-"), "-")
	if len(s) > 60 {
		s = strings.TrimRight(s[:60], "-")
	}
	if s == "" {
		return "task"
	}
	return s
}

func readNote(path string) (Note, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Note{}, err
	}
	return ParseNote(data)
}

// writeNote replaces path atomically.
func writeNote(path string, n Note) error {
	data, err := n.Render()
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".note-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
