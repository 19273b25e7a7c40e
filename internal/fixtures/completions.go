package fixtures

import (
	"strconv"
	"strings"
)

// promptCompletionTables hold static, case-insensitive prefix-matched suggestion lists
// for prompt arguments; resource template arguments are completed by completeResourceID
// and completeFilesPath below. Matching is case-insensitive
// deliberately, overriding the case-sensitive behavior of the system this fixture set
// was ported from.
var promptCompletionTables = map[string]map[string][]string{
	"greeting": {
		"name": {"Alice", "Bob", "Charlie", "Dana"},
	},
	"code_review": {
		"language": {"go", "rust", "python", "javascript", "typescript"},
	},
	"translate": {
		"language": {"spanish", "french", "german", "japanese", "mandarin"},
	},
}

func completePromptArgument(promptName, argName, value string) []string {
	table, ok := promptCompletionTables[promptName]
	if !ok {
		return nil
	}
	values, ok := table[argName]
	if !ok {
		return nil
	}
	return matchPrefixCI(values, value)
}

func completeResourceID(value string, count int) []string {
	prefix := strings.ToLower(value)
	var matches []string
	for i := 0; i < count; i++ {
		id := strconv.Itoa(i)
		if strings.HasPrefix(id, prefix) {
			matches = append(matches, id)
		}
	}
	return matches
}

func completeFilesPath() []string {
	return []string{"test://files/"}
}

func matchPrefixCI(values []string, prefix string) []string {
	lowerPrefix := strings.ToLower(prefix)
	var matches []string
	for _, v := range values {
		if strings.HasPrefix(strings.ToLower(v), lowerPrefix) {
			matches = append(matches, v)
		}
	}
	return matches
}
