package marketdata

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"signal-backtest-go/internal/market"

	"github.com/shopspring/decimal"
)

// LoadCSV reads a wide price table laid out as date,assetA,assetB,...
func LoadCSV(path string) (*market.Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open price file: %w", err)
	}
	defer f.Close()
	frame, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read price file %s: %w", path, err)
	}
	return frame, nil
}

// ReadCSV parses a wide price table. Empty cells are missing prices.
func ReadCSV(r io.Reader) (*market.Frame, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if len(header) < 2 {
		return nil, fmt.Errorf("header needs a date column and at least one asset")
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	frame := market.NewFrame()
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		date, err := market.ParseDate(strings.TrimSpace(rec[0]))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if _, dup := frame.Index(date); dup {
			return nil, fmt.Errorf("line %d: duplicate date %s", line, date.Format(market.DateLayout))
		}
		for i := 1; i < len(rec); i++ {
			cell := strings.TrimSpace(rec[i])
			if cell == "" {
				continue
			}
			price, err := decimal.NewFromString(cell)
			if err != nil {
				return nil, fmt.Errorf("line %d, %s: %w", line, header[i], err)
			}
			frame.Set(date, header[i], price)
		}
	}
	return frame, nil
}

// SaveCSV writes frame to path, creating parent directories.
func SaveCSV(path string, frame *market.Frame) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create price cache directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create price file: %w", err)
	}
	if err := WriteCSV(f, frame); err != nil {
		f.Close()
		return fmt.Errorf("failed to write price file %s: %w", path, err)
	}
	return f.Close()
}

// WriteCSV writes frame in the layout ReadCSV accepts.
func WriteCSV(w io.Writer, frame *market.Frame) error {
	assets := frame.Assets()
	cw := csv.NewWriter(w)
	if err := cw.Write(append([]string{"date"}, assets...)); err != nil {
		return err
	}
	for i, date := range frame.Dates() {
		row := frame.Row(i)
		rec := make([]string, 0, len(assets)+1)
		rec = append(rec, date.Format(market.DateLayout))
		for _, a := range assets {
			if p, ok := row[a]; ok {
				rec = append(rec, p.String())
			} else {
				rec = append(rec, "")
			}
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
