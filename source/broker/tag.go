package broker

import (
	"sort"
	"strings"
)

// TagHeader is the record header drivers read a message tag from.
const TagHeader = "tag"

// TagFilter is a parsed subscription expression such as "a || b". The zero
// value, "" and "*" match every message.
type TagFilter struct {
	expr string
	tags map[string]struct{}
}

func ParseTagFilter(expr string) TagFilter {
	expr = strings.TrimSpace(expr)
	if expr == "" || expr == "*" {
		return TagFilter{}
	}
	f := TagFilter{tags: map[string]struct{}{}}
	var names []string
	for _, part := range strings.Split(expr, "||") {
		t := strings.TrimSpace(part)
		if t == "" {
			continue
		}
		if t == "*" {
			return TagFilter{}
		}
		if _, dup := f.tags[t]; !dup {
			f.tags[t] = struct{}{}
			names = append(names, t)
		}
	}
	if len(names) == 0 {
		return TagFilter{}
	}
	sort.Strings(names)
	f.expr = strings.Join(names, " || ")
	return f
}

func (f TagFilter) MatchAll() bool { return len(f.tags) == 0 }

func (f TagFilter) Match(tag string) bool {
	if f.MatchAll() {
		return true
	}
	_, ok := f.tags[tag]
	return ok
}

// String returns the normalized expression; "*" when everything matches.
func (f TagFilter) String() string {
	if f.MatchAll() {
		return "*"
	}
	return f.expr
}
