// Package labelparse extracts the start WAL segment and start time from a
// PostgreSQL backup_label file, whether it arrives as a standalone text
// blob or embedded as the first entry of a streamed base-backup tar.
package labelparse

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"time"
)

var (
	startWALRe  = regexp.MustCompile(`START WAL LOCATION: \S+ \(file ([0-9A-Fa-f]+)\)`)
	startTimeRe = regexp.MustCompile(`START TIME:\s*(.+)`)
)

// timeLayouts covers the backup_label variants PostgreSQL has emitted
// across versions: whole-second and fractional-second precision, named
// zone abbreviation ("GMT", "UTC") or numeric offset.
var timeLayouts = []string{
	"2006-01-02 15:04:05 MST",
	"2006-01-02 15:04:05.999999 MST",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05.999999Z07:00",
}

// ErrNoWALLocation is returned when a label has no START WAL LOCATION line.
var ErrNoWALLocation = errors.New("labelparse: START WAL LOCATION not found")

// ErrNoStartTime is returned when a label has no START TIME line.
var ErrNoStartTime = errors.New("labelparse: START TIME not found")

// ParseText extracts (segment, iso8601_utc_time) from the raw text of a
// backup_label file.
func ParseText(label string) (segment, isoTime string, err error) {
	walMatch := startWALRe.FindStringSubmatch(label)
	if walMatch == nil {
		return "", "", ErrNoWALLocation
	}

	timeMatch := startTimeRe.FindStringSubmatch(label)
	if timeMatch == nil {
		return "", "", ErrNoStartTime
	}

	iso, err := normalizeTime(strings.TrimSpace(firstLine(timeMatch[1])))
	if err != nil {
		return "", "", err
	}

	return walMatch[1], iso, nil
}

// ParseTar opens the tar archive at tarPath and extracts backup_label from
// its first matching entry, applying the same rules as ParseText. This is
// the path used when a backup stream embeds the label as the first file
// of the archive rather than delivering it separately.
func ParseTar(tarPath string) (segment, isoTime string, err error) {
	f, err := os.Open(tarPath)
	if err != nil {
		return "", "", fmt.Errorf("labelparse: opening tar: %w", err)
	}
	defer f.Close()

	tr := tar.NewReader(f)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return "", "", fmt.Errorf("labelparse: backup_label entry not found in %s", tarPath)
		}
		if err != nil {
			return "", "", fmt.Errorf("labelparse: reading tar: %w", err)
		}
		if hdr.Name != "backup_label" {
			continue
		}

		body, err := io.ReadAll(tr)
		if err != nil {
			return "", "", fmt.Errorf("labelparse: reading backup_label entry: %w", err)
		}
		return ParseText(string(body))
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func normalizeTime(raw string) (string, error) {
	var lastErr error
	for _, layout := range timeLayouts {
		t, err := time.Parse(layout, raw)
		if err == nil {
			return t.UTC().Format("2006-01-02T15:04:05-07:00"), nil
		}
		lastErr = err
	}
	return "", fmt.Errorf("labelparse: unrecognized START TIME format %q: %w", raw, lastErr)
}
