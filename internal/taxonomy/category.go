package taxonomy

import "strings"

// Category code widths.
const (
	DivisionDigits = 2
	GroupDigits    = 3
	ClassDigits    = 4
	CodeDigits     = 8
)

// Level names the specificity reached by a category overlap.
type Level string

const (
	LevelNone     Level = ""
	LevelDivision Level = "division"
	LevelGroup    Level = "group"
	LevelClass    Level = "class"
	LevelFull     Level = "full"
)

// Points awarded per level.
const (
	PointsFull     = 20
	PointsClass    = 15
	PointsGroup    = 12
	PointsDivision = 8
)

// NormalizeCode turns an upstream category code ("45210000-2", "4521", " 45.21 ")
// into a fixed-width numeric string. It returns "" when no digits are present.
func NormalizeCode(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if idx := strings.IndexByte(trimmed, '-'); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	digits := digitsOnly(trimmed, CodeDigits)
	if digits == "" {
		return ""
	}
	if len(digits) < CodeDigits {
		digits += strings.Repeat("0", CodeDigits-len(digits))
	}
	return digits
}

// NormalizePrefix keeps the leading digits of a configured prefix without padding.
func NormalizePrefix(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if idx := strings.IndexByte(trimmed, '-'); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return digitsOnly(trimmed, CodeDigits)
}

// Division returns the top-level two-digit division of a normalized code.
func Division(code string) string {
	normalized := NormalizeCode(code)
	if len(normalized) < DivisionDigits {
		return ""
	}
	return normalized[:DivisionDigits]
}

// Overlap counts the leading digits a normalized code shares with a prefix.
func Overlap(code, prefix string) int {
	code = NormalizeCode(code)
	prefix = NormalizePrefix(prefix)
	n := min(len(code), len(prefix))
	i := 0
	for i < n && code[i] == prefix[i] {
		i++
	}
	return i
}

// TierFor maps an overlap length to its level and points.
func TierFor(overlap int) (Level, int) {
	switch {
	case overlap >= CodeDigits:
		return LevelFull, PointsFull
	case overlap >= ClassDigits:
		return LevelClass, PointsClass
	case overlap >= GroupDigits:
		return LevelGroup, PointsGroup
	case overlap >= 1:
		return LevelDivision, PointsDivision
	default:
		return LevelNone, 0
	}
}

// CategoryMatch is the best tier reached across a set of prefixes.
type CategoryMatch struct {
	Prefix  string
	Overlap int
	Level   Level
	Points  int
}

// BestCategoryMatch returns the strongest overlap between code and any prefix.
// Tiers are compared, never summed; on equal overlap the first prefix wins.
func BestCategoryMatch(code string, prefixes []string) CategoryMatch {
	var best CategoryMatch
	if NormalizeCode(code) == "" {
		return best
	}
	for _, raw := range prefixes {
		prefix := NormalizePrefix(raw)
		if prefix == "" {
			continue
		}
		overlap := Overlap(code, prefix)
		if overlap <= best.Overlap {
			continue
		}
		level, points := TierFor(overlap)
		best = CategoryMatch{Prefix: prefix, Overlap: overlap, Level: level, Points: points}
	}
	return best
}

func digitsOnly(raw string, limit int) string {
	var b strings.Builder
	for _, r := range raw {
		if r < '0' || r > '9' {
			if r == '.' || r == ' ' {
				continue
			}
			return ""
		}
		if b.Len() == limit {
			break
		}
		b.WriteRune(r)
	}
	return b.String()
}
