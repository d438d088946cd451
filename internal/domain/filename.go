package domain

import (
	"strconv"
	"strings"
)

const maxFilenameLen = 255

// SanitizeFilename strips path separators and NUL bytes and caps the length.
func SanitizeFilename(name string) string {
	name = strings.NewReplacer("/", "_", "\\", "_", "\x00", "").Replace(name)
	if len(name) > maxFilenameLen {
		name = name[:maxFilenameLen]
	}
	return name
}

func itoa64(n int64) string {
	return strconv.FormatInt(n, 10)
}
