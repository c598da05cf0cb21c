package model

import (
	"slices"
	"time"
)

// ContentEqual reports whether two tasks carry the same content.
// Identity, timestamps and the raw source payload are ignored.
func ContentEqual(a, b Task) bool {
	if !FieldsEqual(a.Fields, b.Fields) {
		return false
	}
	if a.Source.Extension != b.Source.Extension || a.Source.URL != b.Source.URL {
		return false
	}
	return keysEqual(a.Source.Keys, b.Source.Keys)
}

// FieldsEqual compares two field sets value by value.
func FieldsEqual(a, b Fields) bool {
	if a.Title != b.Title || a.Status != b.Status || a.Priority != b.Priority ||
		a.Category != b.Category || a.Done != b.Done {
		return false
	}
	if a.Project != b.Project || a.ParentTask != b.ParentTask {
		return false
	}
	if !slices.Equal(a.Areas, b.Areas) {
		return false
	}
	return timeEqual(a.DoDate, b.DoDate) && timeEqual(a.DueDate, b.DueDate)
}

// MergeKeys returns the union of the given key maps. Later maps win on conflicting source ids.
// Empty natural keys are skipped. The result is never nil.
func MergeKeys(maps ...map[string]string) map[string]string {
	out := make(map[string]string)
	for _, m := range maps {
		for src, key := range m {
			if src == "" || key == "" {
				continue
			}
			out[src] = key
		}
	}
	return out
}

// Overlay copies every non-zero field of src onto dst.
func Overlay(dst, src Fields) Fields {
	out := dst.Clone()
	if src.Title != "" {
		out.Title = src.Title
	}
	if src.Status != "" {
		out.Status = src.Status
	}
	if src.Priority != "" {
		out.Priority = src.Priority
	}
	if src.Category != "" {
		out.Category = src.Category
	}
	if src.Done {
		out.Done = true
	}
	if src.Project != "" {
		out.Project = src.Project
	}
	if len(src.Areas) > 0 {
		out.Areas = append([]string(nil), src.Areas...)
	}
	if src.ParentTask != "" {
		out.ParentTask = src.ParentTask
	}
	if src.DoDate != nil {
		d := *src.DoDate
		out.DoDate = &d
	}
	if src.DueDate != nil {
		d := *src.DueDate
		out.DueDate = &d
	}
	return out
}

func keysEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if w, ok := b[k]; !ok || w != v {
			return false
		}
	}
	return true
}

func timeEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
