package orgmode

import (
	"bufio"
	"io"
	"os"
	"regexp"
	"strings"
	"time"
)

// Entry is one TODO/DONE headline with an :ID: property.
type Entry struct {
	ID        string
	Title     string
	Done      bool
	Priority  string
	Tags      []string
	Deadline  *time.Time
	Scheduled *time.Time
	File      string
}

var (
	headlineRegex  = regexp.MustCompile(`^\*+\s+(TODO|DONE)\s*(?:\[#([A-Z])\])?\s*(.*?)(?:\s+(:(\w+(:\w+)*):))?\s*$`)
	deadlineRegex  = regexp.MustCompile(`DEADLINE:\s+<(\d{4}-\d{2}-\d{2})(?:\s+[A-Za-z]{3})?(?:\s+(\d{2}:\d{2}))?>`)
	scheduledRegex = regexp.MustCompile(`SCHEDULED:\s+<(\d{4}-\d{2}-\d{2})(?:\s+[A-Za-z]{3})?(?:\s+(\d{2}:\d{2}))?>`)
	idRegex        = regexp.MustCompile(`^:ID:\s+(\S+)`)
)

func parseFile(filePath string) ([]Entry, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return Parse(file, filePath)
}

// ParseFiles parses every file in order.
func ParseFiles(filePaths []string) ([]Entry, error) {
	var all []Entry
	for _, filePath := range filePaths {
		entries, err := parseFile(filePath)
		if err != nil {
			return nil, err
		}
		all = append(all, entries...)
	}
	return all, nil
}

// Parse reads Org-mode headlines from r. Headlines without an :ID: property are skipped since
// nothing else identifies them across edits.
func Parse(r io.Reader, file string) ([]Entry, error) {
	scanner := bufio.NewScanner(r)
	var entries []Entry
	var current *Entry

	flush := func() {
		if current != nil && current.ID != "" && current.Title != "" {
			entries = append(entries, *current)
		}
		current = nil
	}

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if strings.HasPrefix(line, "*") {
			flush()
			m := headlineRegex.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			current = &Entry{
				Done:     m[1] == "DONE",
				Priority: m[2],
				Title:    strings.TrimSpace(m[3]),
				File:     file,
			}
			if m[4] != "" {
				current.Tags = strings.Split(strings.Trim(m[4], ":"), ":")
			}
			continue
		}
		if current == nil {
			continue
		}
		if m := deadlineRegex.FindStringSubmatch(line); m != nil {
			current.Deadline = parseStamp(m[1], m[2])
		}
		if m := scheduledRegex.FindStringSubmatch(line); m != nil {
			current.Scheduled = parseStamp(m[1], m[2])
		}
		if m := idRegex.FindStringSubmatch(line); m != nil {
			current.ID = m[1]
		}
	}
	flush()

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func parseStamp(date, clock string) *time.Time {
	layout, value := "2006-01-02", date
	if clock != "" {
		layout, value = "2006-01-02 15:04", date+" "+clock
	}
	t, err := time.ParseInLocation(layout, value, time.Local)
	if err != nil {
		return nil
	}
	return &t
}

// FilterTasks keeps the entries carrying tag.
func FilterTasks(entries []Entry, tag string) []Entry {
	var out []Entry
	for _, e := range entries {
		for _, t := range e.Tags {
			if t == tag {
				out = append(out, e)
				break
			}
		}
	}
	return out
}
