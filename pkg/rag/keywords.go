// Package rag extracts weighted search keywords and queries the knowledge
// retrieval service.
package rag

import (
	"regexp"
	"strconv"
	"strings"
)

// minKeywordWeight drops marginal keywords before normalization.
const minKeywordWeight = 0.1

// Keyword is one weighted retrieval term. Weights are non-negative and sum
// to 1 after normalization.
type Keyword struct {
	Keyword string  `json:"keyword"`
	Weight  float64 `json:"weight"`
}

// keywordTuple matches ("term", 0.3) style tuples emitted by the LLM.
var keywordTuple = regexp.MustCompile(`\(\s*["']?([^"'(),]+)["']?\s*,\s*([0-9.]+)\s*\)`)

// ParseKeywords extracts keywords from LLM output. It prefers the first
// line holding a bracketed list, then falls back to scanning the whole
// response. Keywords below the weight floor are dropped and the rest
// renormalized; an empty result means the caller should use
// FallbackKeywords.
func ParseKeywords(response string) []Keyword {
	var matches [][]string
	for _, line := range strings.Split(response, "\n") {
		if strings.Contains(line, "[") && strings.Contains(line, "]") {
			if found := keywordTuple.FindAllStringSubmatch(line, -1); len(found) > 0 {
				matches = found
				break
			}
		}
	}
	if matches == nil {
		matches = keywordTuple.FindAllStringSubmatch(response, -1)
	}

	keywords := make([]Keyword, 0, len(matches))
	for _, m := range matches {
		weight, err := strconv.ParseFloat(m[2], 64)
		if err != nil || weight < minKeywordWeight {
			continue
		}
		term := strings.TrimSpace(m[1])
		if term == "" {
			continue
		}
		keywords = append(keywords, Keyword{Keyword: term, Weight: weight})
	}

	return Normalize(keywords)
}

// Normalize rescales weights to sum to 1. Zero-sum input returns nil.
func Normalize(keywords []Keyword) []Keyword {
	var sum float64
	for _, kw := range keywords {
		sum += kw.Weight
	}
	if sum <= 0 {
		return nil
	}
	out := make([]Keyword, len(keywords))
	for i, kw := range keywords {
		out[i] = Keyword{Keyword: kw.Keyword, Weight: kw.Weight / sum}
	}
	return out
}

// fallbackTerms maps known domain terms to canonical English keywords with
// default weights, used when LLM extraction fails.
var fallbackTerms = []struct {
	term    string
	keyword string
	weight  float64
}{
	{"微波", "Microwave", 0.3},
	{"遥感", "Remote Sensing", 0.3},
	{"散射", "Scattering", 0.2},
	{"土壤", "Soil", 0.2},
	{"雷达", "Radar", 0.2},
	{"后向散射", "Backscattering", 0.2},
	{"湿度", "Moisture", 0.15},
	{"参数", "Parameters", 0.15},
	{"反演", "Inversion", 0.15},
	{"建模", "Modeling", 0.15},
	{"介电", "Dielectric", 0.15},
	{"极化", "Polarization", 0.15},
}

// FallbackKeywords maps domain terms found in the query to canonical
// English keywords. Queries matching nothing get a generic default set.
func FallbackKeywords(query string) []Keyword {
	var keywords []Keyword
	for _, entry := range fallbackTerms {
		if strings.Contains(query, entry.term) {
			keywords = append(keywords, Keyword{Keyword: entry.keyword, Weight: entry.weight})
		}
	}
	if len(keywords) == 0 {
		keywords = []Keyword{
			{Keyword: "Microwave Remote Sensing", Weight: 0.5},
			{Keyword: "Parameter Analysis", Weight: 0.5},
		}
	}
	return Normalize(keywords)
}
