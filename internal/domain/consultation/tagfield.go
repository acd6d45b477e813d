package consultation

import (
	"encoding/json"
	"strings"
)

// TagSet is an ordered set of trimmed, non-empty tags. Insertion order is kept.
type TagSet struct {
	tags []string
}

// NewTagSet builds a set from tags, dropping blanks and duplicates.
func NewTagSet(tags ...string) TagSet {
	var s TagSet
	for _, t := range tags {
		s.Add(t)
	}
	return s
}

// Add appends tag after trimming. Empty or already present tags are ignored.
// It reports whether the set changed.
func (s *TagSet) Add(tag string) bool {
	tag = strings.TrimSpace(tag)
	if tag == "" || s.Contains(tag) {
		return false
	}
	s.tags = append(s.tags, tag)
	return true
}

// Remove drops an exact match, keeping the order of the remaining tags.
func (s *TagSet) Remove(tag string) bool {
	for i, t := range s.tags {
		if t == tag {
			s.tags = append(s.tags[:i:i], s.tags[i+1:]...)
			return true
		}
	}
	return false
}

// Contains is a case-sensitive exact lookup.
func (s TagSet) Contains(tag string) bool {
	for _, t := range s.tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Values returns a copy of the tags in insertion order.
func (s TagSet) Values() []string {
	out := make([]string, len(s.tags))
	copy(out, s.tags)
	return out
}

// Len is the number of tags.
func (s TagSet) Len() int { return len(s.tags) }

// IsEmpty reports whether the set has no tags.
func (s TagSet) IsEmpty() bool { return len(s.tags) == 0 }

// Clear drops every tag.
func (s *TagSet) Clear() { s.tags = nil }

// MarshalJSON encodes the set as a JSON array in insertion order.
func (s TagSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Values())
}

// TagField is the string codec for a multi-valued field persisted as one
// delimiter-joined string. The zero value is not usable; set Delimiter.
type TagField struct {
	Delimiter string
}

// Add returns current with the delimiter and tag appended. The stored text
// is not rewritten, so Remove(Add(current, tag), tag) gives back current.
// Blank, duplicate and tags that contain the delimiter leave current unchanged.
func (f TagField) Add(current, tag string) string {
	tag = strings.TrimSpace(tag)
	if !f.Accepts(tag) || f.Parse(current).Contains(tag) {
		return current
	}
	if current == "" {
		return tag
	}
	return current + f.Delimiter + tag
}

// Remove drops every stored part equal to tag after trimming. The other parts
// keep their original spelling. Absent tags leave current unchanged.
func (f TagField) Remove(current, tag string) string {
	tag = strings.TrimSpace(tag)
	if current == "" || tag == "" {
		return current
	}
	parts := strings.Split(current, f.Delimiter)
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) != tag {
			kept = append(kept, p)
		}
	}
	if len(kept) == len(parts) {
		return current
	}
	return strings.Join(kept, f.Delimiter)
}

// Tags splits current into trimmed, non-empty parts in their stored order.
func (f TagField) Tags(current string) []string {
	return f.Parse(current).Values()
}

// Clear returns the stored form of an empty field.
func (f TagField) Clear() string { return "" }

// Accepts reports whether tag can round-trip through this field's encoding.
func (f TagField) Accepts(tag string) bool {
	tag = strings.TrimSpace(tag)
	return tag != "" && !strings.Contains(tag, f.Delimiter)
}

// Parse decodes a stored string into a TagSet.
func (f TagField) Parse(current string) TagSet {
	if current == "" {
		return TagSet{}
	}
	return NewTagSet(strings.Split(current, f.Delimiter)...)
}

// Join encodes a TagSet for storage.
func (f TagField) Join(set TagSet) string {
	return strings.Join(set.tags, f.Delimiter)
}
