package engine

import (
	"unicode/utf8"

	"github.com/agext/levenshtein"

	"github.com/roach88/procrecon/internal/catalog"
	"github.com/roach88/procrecon/internal/config"
)

// Similarity returns the normalized Levenshtein similarity of two labels
// after catalog normalization: 1 - distance/max(len). Two empty labels are
// identical.
func Similarity(a, b string) float64 {
	na, nb := catalog.NormalizeText(a), catalog.NormalizeText(b)
	longest := max(utf8.RuneCountInString(na), utf8.RuneCountInString(nb))
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein.Distance(na, nb, nil))/float64(longest)
}

// ScoreFields is the part of a candidate or entry the fuzzy score compares.
type ScoreFields struct {
	Client string
	Role   string
	Name   string
}

// Score is the weighted similarity of two field sets. A field empty on
// either side is dropped and the remaining weights are renormalized.
func Score(a, b ScoreFields, w config.Weights) float64 {
	var sum, total float64
	add := func(x, y string, weight float64) {
		if weight <= 0 || x == "" || y == "" {
			return
		}
		sum += weight * Similarity(x, y)
		total += weight
	}
	add(a.Client, b.Client, w.Client)
	add(a.Role, b.Role, w.Role)
	add(a.Name, b.Name, w.Name)
	if total == 0 {
		return 0
	}
	return sum / total
}
