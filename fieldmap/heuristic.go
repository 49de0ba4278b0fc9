package fieldmap

import (
	"strings"

	"github.com/teranos/intake/model"
)

type rule struct {
	target *string
	match  func(lower string) bool
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// Heuristic maps headers by case-insensitive substring, first match per
// identity field. A header is claimed at most once; the rest become
// DynamicFields, and the application hints are picked among those.
func Heuristic(headers []string) model.FieldMapping {
	var m model.FieldMapping
	rules := []rule{
		{&m.NameField, func(h string) bool { return strings.Contains(h, "name") && !strings.Contains(h, "email") }},
		{&m.EmailField, func(h string) bool { return containsAny(h, "email", "e-mail") }},
		{&m.ResumeURLField, func(h string) bool { return containsAny(h, "resume", "cv", "url", "link") }},
		{&m.PhoneField, func(h string) bool { return containsAny(h, "phone", "mobile", "contact") }},
	}

	claimed := make(map[string]bool)
	for _, r := range rules {
		for _, h := range headers {
			if claimed[h] || h == "" {
				continue
			}
			if r.match(strings.ToLower(h)) {
				*r.target = h
				claimed[h] = true
				break
			}
		}
	}

	m.DynamicFields = unclaimed(headers, claimed)
	pickHints(&m)
	return m
}

// pickHints names the position, application date and status columns among
// the dynamic fields. The position must be the whole header, so "Job ID" is
// never mistaken for it.
func pickHints(m *model.FieldMapping) {
	rules := []rule{
		{&m.PositionField, model.IsPositionHeader},
		{&m.ApplicationDateField, func(h string) bool { return strings.Contains(h, "date") && strings.Contains(h, "appl") }},
		{&m.ApplicationStatusField, func(h string) bool { return strings.Contains(h, "status") }},
	}

	used := make(map[string]bool)
	for _, r := range rules {
		for _, h := range m.DynamicFields {
			if used[h] {
				continue
			}
			if r.match(strings.ToLower(h)) {
				*r.target = h
				used[h] = true
				break
			}
		}
	}
}

// Sanitize enforces the mapping contract on oracle output: names that are not
// headers become empty, a header claimed twice keeps its first field, and
// DynamicFields is recomputed as the complement in header order. Hints must
// name distinct dynamic fields.
func Sanitize(m model.FieldMapping, headers []string) model.FieldMapping {
	known := make(map[string]bool, len(headers))
	for _, h := range headers {
		known[h] = true
	}

	claimed := make(map[string]bool)
	for _, f := range []*string{&m.NameField, &m.EmailField, &m.ResumeURLField, &m.PhoneField} {
		name := strings.TrimSpace(*f)
		if name == "" || !known[name] || claimed[name] {
			*f = ""
			continue
		}
		*f = name
		claimed[name] = true
	}
	m.DynamicFields = unclaimed(headers, claimed)

	used := make(map[string]bool)
	for _, f := range []*string{&m.PositionField, &m.ApplicationDateField, &m.ApplicationStatusField} {
		name := strings.TrimSpace(*f)
		if name == "" || !known[name] || claimed[name] || used[name] {
			*f = ""
			continue
		}
		*f = name
		used[name] = true
	}
	return m
}

func unclaimed(headers []string, claimed map[string]bool) []string {
	out := make([]string, 0, len(headers))
	seen := make(map[string]bool, len(headers))
	for _, h := range headers {
		if h == "" || claimed[h] || seen[h] {
			continue
		}
		seen[h] = true
		out = append(out, h)
	}
	return out
}
