// Package numerology scores calendrical number properties: the universal day
// number, master dates, custom cycle alignments and price digit sums.
package numerology

import (
	"strings"
)

// masterNumbers are preserved through reduction instead of being collapsed
// to a single digit.
var masterNumbers = map[int]bool{11: true, 22: true, 33: true}

// IsMaster reports whether n is one of 11, 22, 33.
func IsMaster(n int) bool { return masterNumbers[n] }

// DigitSum adds the base-10 digits of n.
func DigitSum(n int) int {
	sum := 0
	for n > 0 {
		sum += n % 10
		n /= 10
	}
	return sum
}

// Reduce iterates digit sums down to a single digit. After the first
// reduction step, an intermediate value of 11, 22 or 33 is returned as-is.
// The seed itself is never treated as master: Reduce(20291111) first
// collapses to 17, then to 8.
func Reduce(n int) (value int, master bool) {
	if n <= 0 {
		return 0, false
	}
	value = DigitSum(n)
	for value > 9 {
		if masterNumbers[value] {
			return value, true
		}
		value = DigitSum(value)
	}
	return value, false
}

// UniversalDay computes the universal day number of a YYYYMMDD date integer.
func UniversalDay(yyyymmdd int) (digitSum int, value int, master bool) {
	digitSum = DigitSum(yyyymmdd)
	value, master = Reduce(yyyymmdd)
	return digitSum, value, master
}

// Gematria cipher values for each supported scheme.

var jewishValues = map[rune]int{
	'a': 1, 'b': 2, 'c': 3, 'd': 4, 'e': 5, 'f': 6, 'g': 7, 'h': 8,
	'i': 9, 'j': 600, 'k': 10, 'l': 20, 'm': 30, 'n': 40, 'o': 50,
	'p': 60, 'q': 70, 'r': 80, 's': 90, 't': 100, 'u': 200, 'v': 700,
	'w': 900, 'x': 300, 'y': 400, 'z': 500,
}

// Gematria holds one word's value under every cipher.
type Gematria struct {
	EnglishOrdinal int `json:"english_ordinal"`
	FullReduction  int `json:"full_reduction"`
	Jewish         int `json:"jewish"`
	English        int `json:"english"`
}

// ComputeGematria evaluates text under the supported ciphers. Non-letters
// are ignored.
func ComputeGematria(text string) Gematria {
	var g Gematria
	for _, c := range strings.ToLower(text) {
		if c < 'a' || c > 'z' {
			continue
		}
		ordinal := int(c-'a') + 1
		g.EnglishOrdinal += ordinal
		g.FullReduction += (ordinal-1)%9 + 1
		g.Jewish += jewishValues[c]
		g.English += ordinal * 6
	}
	return g
}
