package auth

import "strings"

// HasScope reports whether required is a member of the space-delimited
// granted scope set. An empty or absent granted set never matches.
func HasScope(granted, required string) bool {
	if granted == "" || required == "" {
		return false
	}
	for _, scope := range strings.Fields(granted) {
		if scope == required {
			return true
		}
	}
	return false
}
