package bridge

import "strings"

// TagFilter drops configured tag blocks (and the tags themselves) from
// streamed text. Tags may be split across token boundaries, so the
// filter holds a partial tag until its closing '>' arrives.
//
// A TagFilter carries per-stream state and is not safe for concurrent
// use; create one per response.
type TagFilter struct {
	tags    []string
	depth   int
	partial strings.Builder
}

// NewTagFilter creates a filter for the given tag names (without
// angle brackets).
func NewTagFilter(tags []string) *TagFilter {
	return &TagFilter{tags: tags}
}

// Feed pushes one text increment through the filter and returns the
// text that survives.
func (f *TagFilter) Feed(text string) string {
	if len(f.tags) == 0 {
		return text
	}

	var out strings.Builder
	for i := 0; i < len(text); i++ {
		ch := text[i]

		if f.partial.Len() > 0 {
			f.partial.WriteByte(ch)
			if ch == '>' {
				out.WriteString(f.closeCandidate())
			}
			continue
		}

		if ch == '<' {
			f.partial.WriteByte(ch)
			continue
		}

		if f.depth == 0 {
			out.WriteByte(ch)
		}
	}
	return out.String()
}

// Flush returns any text still held as a partial tag. Called once at
// stream end.
func (f *TagFilter) Flush() string {
	if f.partial.Len() == 0 || f.depth > 0 {
		f.partial.Reset()
		return ""
	}
	held := f.partial.String()
	f.partial.Reset()
	return held
}

// closeCandidate resolves a completed "<...>" sequence: filtered tags
// adjust suppression depth and vanish, everything else passes through
// (unless inside a suppressed block).
func (f *TagFilter) closeCandidate() string {
	candidate := f.partial.String()
	f.partial.Reset()

	name := tagName(candidate)
	for _, tag := range f.tags {
		if !strings.EqualFold(name, tag) {
			continue
		}
		if strings.HasPrefix(candidate, "</") {
			if f.depth > 0 {
				f.depth--
			}
		} else if !strings.HasSuffix(candidate, "/>") {
			f.depth++
		}
		return ""
	}

	if f.depth > 0 {
		return ""
	}
	return candidate
}

// tagName extracts the bare tag name from "<name attr=..>" or "</name>".
func tagName(candidate string) string {
	s := strings.TrimPrefix(candidate, "<")
	s = strings.TrimPrefix(s, "/")
	s = strings.TrimSuffix(s, ">")
	s = strings.TrimSuffix(s, "/")
	if i := strings.IndexAny(s, " \t\n"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
