package csvio

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Table holds the decoded contents of a delimiter-separated upload.
type Table struct {
	Headers   []string
	Rows      [][]string
	Delimiter rune
}

// Decode parses raw CSV bytes into a Table. The delimiter (comma or
// semicolon) is sniffed from the first non-empty line, a leading UTF-8 BOM is
// stripped, and bytes that are not valid UTF-8 are re-decoded using the named
// fallback encoding.
func Decode(raw []byte, fallbackEncoding string) (*Table, error) {
	raw = bytes.TrimPrefix(raw, utf8BOM)

	if !utf8.Valid(raw) {
		decoded, err := decodeFallback(raw, fallbackEncoding)
		if err != nil {
			return nil, err
		}
		raw = decoded
	}

	delimiter := sniffDelimiter(raw)

	reader := csv.NewReader(bytes.NewReader(raw))
	reader.Comma = delimiter
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var records [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		records = append(records, record)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("csv has no header row")
	}

	headers := make([]string, len(records[0]))
	for i, h := range records[0] {
		headers[i] = strings.TrimSpace(h)
	}

	rows := make([][]string, 0, len(records)-1)
	for _, record := range records[1:] {
		if isBlank(record) {
			continue
		}
		row := make([]string, len(headers))
		for i := range headers {
			if i < len(record) {
				row[i] = record[i]
			}
		}
		rows = append(rows, row)
	}

	return &Table{Headers: headers, Rows: rows, Delimiter: delimiter}, nil
}

func decodeFallback(raw []byte, name string) ([]byte, error) {
	var cm *charmap.Charmap
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "latin1", "latin-1", "iso-8859-1", "iso8859-1":
		cm = charmap.ISO8859_1
	case "windows-1252", "cp1252":
		cm = charmap.Windows1252
	default:
		return nil, fmt.Errorf("unsupported fallback encoding %q", name)
	}
	decoded, err := cm.NewDecoder().Bytes(raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return decoded, nil
}

// sniffDelimiter counts unquoted commas and semicolons on the first
// non-empty line; ties fall back to comma.
func sniffDelimiter(raw []byte) rune {
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		commas, semis := 0, 0
		inQuotes := false
		for _, r := range line {
			switch r {
			case '"':
				inQuotes = !inQuotes
			case ',':
				if !inQuotes {
					commas++
				}
			case ';':
				if !inQuotes {
					semis++
				}
			}
		}
		if semis > commas {
			return ';'
		}
		return ','
	}
	return ','
}

func isBlank(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}
