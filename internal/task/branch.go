package task

import "strings"

// Slug lowercases id and replaces any run of characters unsafe in a git
// branch path segment with a single hyphen.
func Slug(id string) string {
	var b strings.Builder
	prevHyphen := false
	for _, r := range strings.ToLower(id) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			prevHyphen = false
		default:
			if !prevHyphen && b.Len() > 0 {
				b.WriteByte('-')
				prevHyphen = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// BranchName builds the per-task working branch name under prefix (spec
// §4.C4 buildTaskBranchName), e.g. prefix "mycelium/task" + id "T-12" ->
// "mycelium/task/t-12".
func BranchName(prefix, id string) string {
	prefix = strings.TrimSuffix(prefix, "/")
	return prefix + "/" + Slug(id)
}
