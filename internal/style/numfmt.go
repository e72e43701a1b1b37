package style

import "strings"

// namedFormats maps the named number-format kinds from spec §4.6 to their
// resolved format codes.
var namedFormats = map[string]string{
	"currency":   "$#,##0.00",
	"percent":    "0.00%",
	"date_iso":   "yyyy-mm-dd",
	"accounting": `_($* #,##0.00_)`,
	"integer":    "0",
}

// ResolveNumberFormat resolves a named kind (e.g. "currency") to its format
// code. An explicit formatCode always overrides the named kind, per spec.
// When neither is supplied, ok is false.
func ResolveNumberFormat(namedKind, formatCode string) (code string, ok bool) {
	if strings.TrimSpace(formatCode) != "" {
		return formatCode, true
	}
	if fc, found := namedFormats[strings.ToLower(strings.TrimSpace(namedKind))]; found {
		return fc, true
	}
	return "", false
}
