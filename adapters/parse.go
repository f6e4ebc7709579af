package adapters

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	priceRe  = regexp.MustCompile(`\d[\d,]*(?:\.\d+)?`)
	ratingRe = regexp.MustCompile(`\d+(?:\.\d+)?`)
	countRe  = regexp.MustCompile(`(\d[\d,]*(?:\.\d+)?)\s*([kKmM]?)`)
)

// ParsePrice reads the first amount in text such as "CDN$ 1,299.99".
func ParsePrice(text string) (float64, bool) {
	m := priceRe.FindString(text)
	if m == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", ""), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// ParseRating reads "4.5 out of 5 stars" as 4.5. Values above 5 are rejected.
func ParseRating(text string) (float64, bool) {
	m := ratingRe.FindString(text)
	if m == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil || v > 5 {
		return 0, false
	}
	return v, true
}

// ParseCount reads review counts like "1,234", "(87)" or "1.2K".
func ParseCount(text string) (int, bool) {
	m := countRe.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil {
		return 0, false
	}
	switch strings.ToLower(m[2]) {
	case "k":
		v *= 1000
	case "m":
		v *= 1000000
	}
	return int(math.Round(v)), true
}

// DiscountPercent is the whole-number markdown from original to current.
func DiscountPercent(current, original *float64) int {
	if current == nil || original == nil || *original <= *current || *original == 0 {
		return 0
	}
	return int((*original - *current) / *original * 100)
}
