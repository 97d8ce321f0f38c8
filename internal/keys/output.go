package keys

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// sanitizeKey replaces spaces with hyphens and lowercases the string.
// You could expand this to strip other characters if needed.
func sanitizeKey(s string) string {
	return strings.ToLower(strings.ReplaceAll(s, " ", "-"))
}

// Output returns the canonical S3 key for an archived run output, grouped
// by run date.
func Output(now time.Time, outputPath string) string {
	return fmt.Sprintf("enriched/%s/%s",
		now.Format("2006-01-02"),
		sanitizeKey(filepath.Base(outputPath)),
	)
}
