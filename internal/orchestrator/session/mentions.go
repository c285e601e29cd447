package session

import "regexp"

// mentionPattern matches @-mentions of a persona handle within message
// content: an '@' followed by word characters and hyphens.
var mentionPattern = regexp.MustCompile(`@([\w-]+)`)

// parseMentions extracts every @-mentioned handle from text, in order of
// first appearance, without duplicates.
func parseMentions(text string) []string {
	matches := mentionPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(matches))
	mentions := make([]string, 0, len(matches))
	for _, m := range matches {
		handle := m[1]
		if seen[handle] {
			continue
		}
		seen[handle] = true
		mentions = append(mentions, handle)
	}
	return mentions
}

// mergeTags appends newTags to base, preserving base's order and skipping
// any tag already present.
func mergeTags(base, newTags []string) []string {
	seen := make(map[string]bool, len(base))
	for _, t := range base {
		seen[t] = true
	}
	out := base
	for _, t := range newTags {
		if seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
