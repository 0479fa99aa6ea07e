package core

import "strconv"

// formatFloat renders a float64 the way the original simulator's string
// interpolation would: minimal digits, no forced decimal point for whole
// numbers (coordinates are generated as integers).
func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// ParseFloat parses a wire-format float field.
func ParseFloat(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}
