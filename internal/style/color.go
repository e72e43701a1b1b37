package style

import (
	"fmt"
	"strings"
)

// NormalizeColor expands "#RGB" to "#RRGGBB" to "#AARRGGBB" with a default
// alpha of "FF". warnedAlphaDefault reports whether the alpha channel was
// defaulted (the caller emits WARN_COLOR_ALPHA_DEFAULT at most once per
// batch on this signal).
func NormalizeColor(c string) (normalized string, warnedAlphaDefault bool, err error) {
	s := strings.TrimSpace(c)
	if s == "" {
		return "", false, fmt.Errorf("style: empty color")
	}
	if !strings.HasPrefix(s, "#") {
		s = "#" + s
	}
	hex := s[1:]
	if !isHex(hex) {
		return "", false, fmt.Errorf("style: invalid color %q", c)
	}
	switch len(hex) {
	case 3:
		expanded := make([]byte, 0, 6)
		for _, ch := range hex {
			expanded = append(expanded, byte(ch), byte(ch))
		}
		return "#FF" + strings.ToUpper(string(expanded)), true, nil
	case 6:
		return "#FF" + strings.ToUpper(hex), true, nil
	case 8:
		return "#" + strings.ToUpper(hex), false, nil
	default:
		return "", false, fmt.Errorf("style: color %q has unsupported length", c)
	}
}

func isHex(s string) bool {
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return len(s) > 0
}

// NormalizeColorIdempotent is a convenience wrapper documenting and
// enforcing the idempotence property from spec §8: normalise(normalise(c))
// == normalise(c). Already-normalized #AARRGGBB input passes through
// unchanged (besides case-folding, which is already upper on output).
func NormalizeColorIdempotent(c string) (string, error) {
	out, _, err := NormalizeColor(c)
	return out, err
}
