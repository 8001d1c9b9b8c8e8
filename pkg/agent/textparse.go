package agent

import (
	"regexp"
	"strconv"
	"strings"
)

// signedInt matches integers, including negative ones, inside free text.
var signedInt = regexp.MustCompile(`-?\d+`)

// errorSignals are patterns that mark an LLM "response" as a relayed error
// message rather than an answer. Matching is against the lowercased text.
var errorSignals = []*regexp.Regexp{
	regexp.MustCompile(`error code:\s*\d+`),
	regexp.MustCompile(`^\d{3}\s*error`),
	regexp.MustCompile(`api\s*error`),
	regexp.MustCompile(`accountoverdue`),
	regexp.MustCompile(`request\s*failed`),
	regexp.MustCompile(`unauthorized`),
	regexp.MustCompile(`forbidden`),
	regexp.MustCompile(`rate\s*limit`),
}

// errorContextWords disambiguate an isolated status code from a discussion
// about status codes.
var errorContextWords = []string{"error", "failed", "forbidden", "unauthorized"}

// ContainsErrorSignal reports whether an LLM response looks like a relayed
// provider error. Isolated "403"/"500" only count when error context words
// appear alongside them.
func ContainsErrorSignal(response string) bool {
	lower := strings.ToLower(response)
	for _, pattern := range errorSignals {
		if pattern.MatchString(lower) {
			return true
		}
	}
	for _, code := range []string{"403", "500"} {
		if !strings.Contains(lower, code) {
			continue
		}
		for _, word := range errorContextWords {
			if strings.Contains(lower, word) {
				return true
			}
		}
	}
	return false
}

// LastInteger extracts the answer integer from an LLM response that was
// asked to put a number on its last line. It walks non-empty lines from
// the bottom, taking the trailing integer of the first line holding one
// that is in the allowed set; failing that it scans the whole response
// backwards for any allowed integer.
func LastInteger(response string, allowed []int) (int, bool) {
	permitted := make(map[int]bool, len(allowed))
	for _, v := range allowed {
		permitted[v] = true
	}

	lines := strings.Split(strings.TrimSpace(response), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		numbers := signedInt.FindAllString(line, -1)
		if len(numbers) == 0 {
			continue
		}
		if candidate, err := strconv.Atoi(numbers[len(numbers)-1]); err == nil && permitted[candidate] {
			return candidate, true
		}
	}

	all := signedInt.FindAllString(response, -1)
	for i := len(all) - 1; i >= 0; i-- {
		if candidate, err := strconv.Atoi(all[i]); err == nil && permitted[candidate] {
			return candidate, true
		}
	}
	return 0, false
}
