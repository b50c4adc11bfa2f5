package capture

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// RecordingPath returns dir/<d>-<m>-<yyyy>/<id>_<H>-<M>-<S>.avi, with the id
// lower-cased and spaces replaced by dashes. Date and time fields are not
// zero-padded.
func RecordingPath(dir, id string, at time.Time) string {
	day := fmt.Sprintf("%d-%d-%d", at.Day(), int(at.Month()), at.Year())
	name := fmt.Sprintf("%s_%d-%d-%d.avi", slug(id), at.Hour(), at.Minute(), at.Second())
	return filepath.Join(dir, day, name)
}

func slug(id string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(id)), " ", "-")
}
