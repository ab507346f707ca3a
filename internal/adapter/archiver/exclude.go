package archiver

import (
	"fmt"
	"regexp"
)

// PatternExcluder skips entries whose relative path matches any pattern.
type PatternExcluder struct {
	patterns []*regexp.Regexp
}

func NewPatternExcluder(patterns []string) (*PatternExcluder, error) {
	e := &PatternExcluder{}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid exclude pattern %q: %w", p, err)
		}
		e.patterns = append(e.patterns, re)
	}
	return e, nil
}

func (e *PatternExcluder) Excluded(rel string) bool {
	if e == nil {
		return false
	}
	for _, re := range e.patterns {
		if re.MatchString(rel) {
			return true
		}
	}
	return false
}
