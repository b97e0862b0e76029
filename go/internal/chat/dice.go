package chat

import (
	"errors"
	"fmt"
	"math/rand"
	"regexp"
	"strconv"
	"strings"

	"github.com/mcdev12/tavern/go/internal/models"
)

const (
	maxDiceCount = 100
	maxDiceSides = 1000
	maxTerms     = 20
)

var ErrInvalidDice = errors.New("invalid dice expression")

// one signed term: 2d6, d20, -1d4, +3
var termPattern = regexp.MustCompile(`^([+-]?)(\d*)d(\d+)$|^([+-]?)(\d+)$`)

// ParseDice splits expressions like "2d6+1d4-1" into terms. Dice counts default to 1.
func ParseDice(expr string) ([]models.DiceTerm, error) {
	compact := strings.ToLower(strings.Join(strings.Fields(expr), ""))
	if compact == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidDice)
	}

	var terms []models.DiceTerm
	for _, raw := range splitTerms(compact) {
		m := termPattern.FindStringSubmatch(raw)
		if m == nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidDice, raw)
		}
		if m[3] != "" {
			count := 1
			if m[2] != "" {
				count, _ = strconv.Atoi(m[2])
			}
			sides, _ := strconv.Atoi(m[3])
			if count < 1 || count > maxDiceCount || sides < 1 || sides > maxDiceSides {
				return nil, fmt.Errorf("%w: %q out of range", ErrInvalidDice, raw)
			}
			terms = append(terms, models.DiceTerm{Count: count, Sides: sides, Sign: sign(m[1])})
			continue
		}
		flat, err := strconv.Atoi(m[5])
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidDice, raw)
		}
		terms = append(terms, models.DiceTerm{Sign: sign(m[4]), Total: flat})
	}
	if len(terms) > maxTerms {
		return nil, fmt.Errorf("%w: too many terms", ErrInvalidDice)
	}
	if !hasDice(terms) {
		return nil, fmt.Errorf("%w: no dice in %q", ErrInvalidDice, expr)
	}
	return terms, nil
}

// Roll parses expr and rolls it. The same seed always gives the same roll.
func Roll(expr string, seed int64) (models.DiceRoll, error) {
	terms, err := ParseDice(expr)
	if err != nil {
		return models.DiceRoll{}, err
	}

	rng := rand.New(rand.NewSource(seed))
	total := 0
	for i := range terms {
		t := &terms[i]
		if t.Sides > 0 {
			t.Results = make([]int, t.Count)
			t.Total = 0
			for j := 0; j < t.Count; j++ {
				t.Results[j] = rng.Intn(t.Sides) + 1
				t.Total += t.Results[j]
			}
		}
		total += t.Sign * t.Total
	}

	return models.DiceRoll{
		Expression: strings.Join(strings.Fields(expr), ""),
		Terms:      terms,
		Total:      total,
		Seed:       seed,
	}, nil
}

func splitTerms(s string) []string {
	var out []string
	start := 0
	for i := 1; i < len(s); i++ {
		if s[i] == '+' || s[i] == '-' {
			out = append(out, s[start:i])
			start = i
		}
	}
	return append(out, s[start:])
}

func sign(s string) int {
	if s == "-" {
		return -1
	}
	return 1
}

func hasDice(terms []models.DiceTerm) bool {
	for _, t := range terms {
		if t.Sides > 0 {
			return true
		}
	}
	return false
}
