package reference

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	symbolColumn = "Ticker"
	nameColumn   = "Name"
)

// CSVProvider reads listings from a CSV file with a Ticker,Name header
type CSVProvider struct {
	Path string
}

// NewCSVProvider creates a provider backed by the CSV file at path
func NewCSVProvider(path string) *CSVProvider {
	return &CSVProvider{Path: path}
}

// Listings parses the whole file on every call
func (p *CSVProvider) Listings(ctx context.Context) ([]Listing, error) {
	f, err := os.Open(p.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ticker file %s: %w", p.Path, err)
	}
	defer f.Close()

	return ReadCSV(f)
}

// ReadCSV parses listings from r. The symbol column is located by header
// name; the name column is optional.
func ReadCSV(r io.Reader) ([]Listing, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("ticker file is empty")
		}
		return nil, fmt.Errorf("failed to read ticker file header: %w", err)
	}

	symbolIdx, nameIdx := -1, -1
	for i, col := range header {
		switch strings.TrimSpace(strings.TrimPrefix(col, "\ufeff")) {
		case symbolColumn:
			symbolIdx = i
		case nameColumn:
			nameIdx = i
		}
	}
	if symbolIdx < 0 {
		return nil, fmt.Errorf("ticker file has no %q column", symbolColumn)
	}

	var listings []Listing
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read ticker file: %w", err)
		}
		if symbolIdx >= len(record) {
			continue
		}
		l := Listing{Symbol: record[symbolIdx]}
		if nameIdx >= 0 && nameIdx < len(record) {
			l.Name = record[nameIdx]
		}
		listings = append(listings, l)
	}

	return listings, nil
}

// WriteCSV writes listings in the layout ReadCSV expects
func WriteCSV(w io.Writer, listings []Listing) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{symbolColumn, nameColumn}); err != nil {
		return fmt.Errorf("failed to write ticker header: %w", err)
	}
	for _, l := range listings {
		if err := writer.Write([]string{l.Symbol, l.Name}); err != nil {
			return fmt.Errorf("failed to write listing %s: %w", l.Symbol, err)
		}
	}
	writer.Flush()
	return writer.Error()
}
