// Package records reads the identifier column out of exported scan results.
package records

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// identifierHeaders are matched as case-insensitive substrings, in priority order.
var identifierHeaders = []string{"symbol", "ticker"}

// IdentifierColumn returns the index of the leftmost header containing any of the
// identifier names, or 0 when none does.
func IdentifierColumn(header []string) int {
	for i, col := range header {
		lower := strings.ToLower(col)
		for _, name := range identifierHeaders {
			if strings.Contains(lower, name) {
				return i
			}
		}
	}
	return 0
}

// Symbols reads delimited rows from r and returns the non-empty identifier values
// in row order. The first row is the header.
func Symbols(r io.Reader) ([]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	header[0] = strings.TrimPrefix(header[0], "\ufeff")
	col := IdentifierColumn(header)

	symbols := []string{}
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return symbols, fmt.Errorf("read row %d: %w", len(symbols)+1, err)
		}
		if col >= len(row) {
			continue
		}
		value := strings.TrimSpace(row[col])
		if value != "" {
			symbols = append(symbols, value)
		}
	}
	return symbols, nil
}

func SymbolsFromFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Symbols(f)
}
