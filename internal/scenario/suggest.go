package scenario

import (
	"fmt"

	"github.com/agnivade/levenshtein"
)

// maxSuggestionDistance is the largest edit distance for which a name is
// still suggested.
const maxSuggestionDistance = 3

// Suggest returns the candidate closest to name, or "" if none is close enough.
func Suggest(name string, candidates []string) string {
	best := ""
	bestDist := maxSuggestionDistance + 1
	for _, c := range candidates {
		d := levenshtein.ComputeDistance(name, c)
		if d < bestDist {
			best = c
			bestDist = d
		}
	}
	return best
}

func unknownScenarioError(name string, candidates []string) error {
	if s := Suggest(name, candidates); s != "" {
		return fmt.Errorf("unknown scenario '%s', did you mean '%s'?", name, s)
	}
	return fmt.Errorf("unknown scenario '%s'", name)
}
