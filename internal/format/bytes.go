// Package format converts byte counts to and from the strings shown to users.
//
// Units are binary (1 KB = 1024 bytes) to match how storage ceilings are
// defined, even though the labels read KB/MB/GB.
package format

import (
	"math"
	"regexp"
	"strings"

	"github.com/dustin/go-humanize"
)

var units = []string{"Bytes", "KB", "MB", "GB", "TB"}

// FormatBytes renders a byte count using the largest unit whose scaled value
// is at least 1, rounded to decimals places with trailing zeros dropped.
//
//	FormatBytes(1048576, 2) == "1 MB"
//	FormatBytes(1572864, 2) == "1.5 MB"
func FormatBytes(bytes int64, decimals int) string {
	if bytes <= 0 {
		return "0 Bytes"
	}
	if decimals < 0 {
		decimals = 0
	}

	i := 0
	for v := bytes; v >= 1024 && i < len(units)-1; v /= 1024 {
		i++
	}

	value := float64(bytes) / math.Pow(1024, float64(i))
	p := math.Pow(10, float64(decimals))
	value = math.Round(value*p) / p

	return humanize.Ftoa(value) + " " + units[i]
}

// Bytes is FormatBytes with two decimals.
func Bytes(bytes int64) string {
	return FormatBytes(bytes, 2)
}

// Compact renders like Bytes but without the space before the unit ("30MB").
func Compact(bytes int64) string {
	return strings.Replace(Bytes(bytes), " ", "", 1)
}

var sizePattern = regexp.MustCompile(`^\s*([0-9]+(?:\.[0-9]+)?)\s*([a-zA-Z]*)\s*$`)

// iecUnits maps the labels we accept onto the binary unit names understood by
// humanize.ParseBytes, which otherwise treats "MB" as 10^6.
var iecUnits = map[string]string{
	"":      "B",
	"b":     "B",
	"byte":  "B",
	"bytes": "B",
	"k":     "KiB",
	"kb":    "KiB",
	"kib":   "KiB",
	"m":     "MiB",
	"mb":    "MiB",
	"mib":   "MiB",
	"g":     "GiB",
	"gb":    "GiB",
	"gib":   "GiB",
	"t":     "TiB",
	"tb":    "TiB",
	"tib":   "TiB",
}

// ParseBytes parses "<number><unit>" (case-insensitive, optional whitespace)
// back into a byte count. Fractional bytes are floored. It returns 0 for
// anything it cannot parse.
func ParseBytes(s string) int64 {
	m := sizePattern.FindStringSubmatch(s)
	if m == nil {
		return 0
	}

	unit, ok := iecUnits[strings.ToLower(m[2])]
	if !ok {
		return 0
	}

	n, err := humanize.ParseBytes(m[1] + " " + unit)
	if err != nil || n > math.MaxInt64 {
		return 0
	}
	return int64(n)
}
