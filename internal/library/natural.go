package library

import (
	"regexp"
	"strings"
)

var firstNumber = regexp.MustCompile(`[0-9]+`)

// CompareNatural orders names by their first embedded integer. Names that
// carry a number sort before names that do not; everything else falls back
// to plain string order.
func CompareNatural(a, b string) int {
	na := firstNumber.FindString(a)
	nb := firstNumber.FindString(b)

	switch {
	case na != "" && nb != "":
		if c := compareDigits(na, nb); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	case na != "":
		return -1
	case nb != "":
		return 1
	default:
		return strings.Compare(a, b)
	}
}

// NaturalLess reports whether a sorts before b under CompareNatural.
func NaturalLess(a, b string) bool {
	return CompareNatural(a, b) < 0
}

// compareDigits compares two decimal strings of any length.
func compareDigits(a, b string) int {
	a = strings.TrimLeft(a, "0")
	b = strings.TrimLeft(b, "0")
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}
