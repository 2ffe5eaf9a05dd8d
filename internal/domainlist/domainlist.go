// Package domainlist parses the batch input: an ordered list of domain
// entry links, usually a CSV export of the form "id";"company_id";"website".
package domainlist

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"github.com/mpetrov/wordspider/internal/link"
)

// Entry is one domain to crawl with its source identity.
type Entry struct {
	CompanyID int
	Link      link.Link
}

// ParseFile reads entries from a semicolon-separated CSV file.
func ParseFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open domain list: %w", err)
	}
	defer func() { _ = f.Close() }()
	return Parse(f)
}

// Parse reads entries from r. A header row is detected and skipped,
// and malformed rows are logged and dropped rather than failing the
// whole batch.
func Parse(r io.Reader) ([]Entry, error) {
	reader := csv.NewReader(r)
	reader.Comma = ';'
	reader.FieldsPerRecord = -1

	var entries []Entry
	for row := 1; ; row++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read domain list row %d: %w", row, err)
		}
		if len(record) < 3 {
			slog.Warn("domainlist: skipping short row", "row", row)
			continue
		}
		if _, err := strconv.Atoi(record[0]); err != nil {
			// Header or junk id column.
			if row == 1 {
				continue
			}
			slog.Warn("domainlist: skipping row with bad id", "row", row, "id", record[0])
			continue
		}
		companyID, err := strconv.Atoi(record[1])
		if err != nil {
			slog.Warn("domainlist: skipping row with bad company id", "row", row, "company_id", record[1])
			continue
		}
		l, err := link.New(record[2])
		if err != nil {
			slog.Warn("domainlist: skipping row with bad website", "row", row, "error", err)
			continue
		}
		entries = append(entries, Entry{CompanyID: companyID, Link: l})
	}
	return entries, nil
}

// FromURLs builds entries directly from command-line URLs.
func FromURLs(urls []string) ([]Entry, error) {
	entries := make([]Entry, 0, len(urls))
	for _, raw := range urls {
		l, err := link.New(raw)
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{Link: l})
	}
	return entries, nil
}
