package model

import (
	"regexp"
	"strings"
)

var hashtagPattern = regexp.MustCompile(`#([\p{L}\p{N}_]+)`)

// MergeTags combines explicitly selected tags with #hashtags found in the
// caption. Tags are lowercased, trimmed of a leading '#', and deduplicated;
// the first occurrence wins the position.
func MergeTags(explicit []string, caption string) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(tag string) {
		tag = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(tag), "#")))
		if tag == "" {
			return
		}
		if _, ok := seen[tag]; ok {
			return
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}

	for _, t := range explicit {
		add(t)
	}
	for _, m := range hashtagPattern.FindAllStringSubmatch(caption, -1) {
		add(m[1])
	}
	if len(out) > MaxPostTags {
		out = out[:MaxPostTags]
	}
	return out
}
