package google

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

const (
	noProjectColor = "14"
	paletteSize    = 11
)

type projectColor struct {
	ColorID  string    `json:"color_id"`
	LastUsed time.Time `json:"last_used"`
}

// Palette assigns each project one of the calendar's event colors. When every color is taken,
// the least recently used project gives its color up.
type Palette struct {
	Path     string
	Projects map[string]*projectColor `json:"projects"`
	mu       sync.Mutex
	dirty    bool
	now      func() time.Time
}

// NewPalette returns a palette persisted at path, loading it if the file exists. An empty path
// keeps it in memory.
func NewPalette(path string) (*Palette, error) {
	p := &Palette{Path: path, Projects: make(map[string]*projectColor), now: time.Now}
	if path == "" {
		return p, nil
	}
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return p, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := json.NewDecoder(f).Decode(&p.Projects); err != nil {
		return nil, err
	}
	return p, nil
}

// ColorFor returns the color id of project.
func (p *Palette) ColorFor(project string) string {
	if project == "" {
		return noProjectColor
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.dirty = true
	if st, ok := p.Projects[project]; ok {
		st.LastUsed = p.now()
		return st.ColorID
	}

	used := make(map[string]bool, len(p.Projects))
	for _, st := range p.Projects {
		used[st.ColorID] = true
	}
	for i := 1; i <= paletteSize; i++ {
		id := strconv.Itoa(i)
		if !used[id] {
			p.Projects[project] = &projectColor{ColorID: id, LastUsed: p.now()}
			return id
		}
	}

	var oldest string
	for name, st := range p.Projects {
		if oldest == "" || st.LastUsed.Before(p.Projects[oldest].LastUsed) {
			oldest = name
		}
	}
	id := p.Projects[oldest].ColorID
	delete(p.Projects, oldest)
	p.Projects[project] = &projectColor{ColorID: id, LastUsed: p.now()}
	return id
}

func (p *Palette) Save() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.dirty || p.Path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(p.Path), 0700); err != nil {
		return err
	}
	data, err := json.Marshal(p.Projects)
	if err != nil {
		return err
	}
	if err := os.WriteFile(p.Path, data, 0600); err != nil {
		return err
	}
	p.dirty = false
	return nil
}
