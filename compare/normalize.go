package compare

import (
	"regexp"
	"strings"
)

var (
	blockCommentRe = regexp.MustCompile(`(?s)/\*.*?\*/`)
	lineCommentRe  = regexp.MustCompile(`--[^\r\n]*(\r\n|\r|\n)`)
	blankLinesRe   = regexp.MustCompile(`\n\s*\n+`)
	distinctRe     = regexp.MustCompile(`(?i)\bDISTINCT\b(\s+ON\b)?`)
	distinctOnRe   = regexp.MustCompile(`(?i)\bON\b`)
	roundOpenRe    = regexp.MustCompile(`(?i)ROUND\s*\(`)
)

// RemoveComments strips block comments (/* ... */) and line comments
// (-- ... to end of line) from each statement, collapsing the blank lines
// left behind.
func RemoveComments(sqls []string) []string {
	cleaned := make([]string, 0, len(sqls))
	for _, sql := range sqls {
		noBlock := blockCommentRe.ReplaceAllString(sql, "")
		noLine := lineCommentRe.ReplaceAllString(noBlock, "$1")
		noBlank := blankLinesRe.ReplaceAllString(noLine, "\n")
		cleaned = append(cleaned, strings.TrimSpace(noBlank))
	}
	return cleaned
}

// RemoveDistinct strips DISTINCT keywords while preserving DISTINCT ON
// clauses.
func RemoveDistinct(sqls []string) []string {
	cleaned := make([]string, 0, len(sqls))
	for _, sql := range sqls {
		cleaned = append(cleaned, distinctRe.ReplaceAllStringFunc(sql, func(match string) string {
			if distinctOnRe.MatchString(match) {
				return match
			}
			return ""
		}))
	}
	return cleaned
}

// RemoveRound strips ROUND(...) calls down to their first argument,
// including nested rounds: ROUND(ROUND(price, 2), 1) becomes price. The
// wrapped expression and any non-rounding nesting are preserved.
func RemoveRound(sqls []string) []string {
	cleaned := make([]string, 0, len(sqls))
	for _, sql := range sqls {
		cleaned = append(cleaned, removeRoundCalls(sql))
	}
	return cleaned
}

func removeRoundCalls(sql string) string {
	result := sql

	for {
		loc := roundOpenRe.FindStringIndex(result)
		if loc == nil {
			break
		}

		openParen := loc[1] - 1
		firstArgEnd := findFirstArgEnd(result, openParen+1)
		closeParen := findMatchingParen(result, openParen)
		if closeParen == -1 {
			// malformed SQL, leave it as is
			break
		}

		firstArg := strings.TrimSpace(result[openParen+1 : firstArgEnd])
		result = result[:loc[0]] + firstArg + result[closeParen+1:]
	}

	return result
}

// Position of the parenthesis matching the one at start.
func findMatchingParen(text string, start int) int {
	depth := 0
	for i := start; i < len(text); i++ {
		switch text[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// End of the first argument, accounting for nested parentheses.
func findFirstArgEnd(text string, start int) int {
	depth := 0
	for i := start; i < len(text); i++ {
		switch text[i] {
		case '(':
			depth++
		case ')':
			if depth == 0 {
				return i
			}
			depth--
		case ',':
			if depth == 0 {
				return i
			}
		}
	}
	return len(text)
}

// Normalize applies comment, DISTINCT, and ROUND stripping so superficial
// differences between two statement lists do not cause false negatives.
// Idempotent.
func Normalize(sqls []string) []string {
	return RemoveRound(RemoveDistinct(RemoveComments(sqls)))
}
