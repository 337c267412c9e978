package signal

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"signal-backtest-go/internal/market"
)

// LoadCSV reads an externally computed signal file laid out as
// date,assetA,assetB,... with one row of target weights per date.
func LoadCSV(path string) (*Series, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open signal file: %w", err)
	}
	defer f.Close()
	series, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read signal file %s: %w", path, err)
	}
	return series, nil
}

// ReadCSV parses a wide signal table. Empty cells leave the asset out of
// that date's weights.
func ReadCSV(r io.Reader) (*Series, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if len(header) < 2 {
		return nil, fmt.Errorf("header needs a date column and at least one asset")
	}

	series := NewSeries()
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
		w := make(Weights, len(header)-1)
		for i := 1; i < len(header) && i < len(rec); i++ {
			cell := strings.TrimSpace(rec[i])
			if cell == "" {
				continue
			}
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d, %s: %w", line, header[i], err)
			}
			w[strings.TrimSpace(header[i])] = v
		}
		if err := series.Add(date, w); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
	}
	return series, nil
}

// WriteCSV writes the series in the layout ReadCSV accepts.
func WriteCSV(w io.Writer, s *Series) error {
	assetSet := make(map[string]struct{})
	for _, d := range s.dates {
		for a := range s.weights[d] {
			assetSet[a] = struct{}{}
		}
	}
	assets := make([]string, 0, len(assetSet))
	for a := range assetSet {
		assets = append(assets, a)
	}
	sort.Strings(assets)

	cw := csv.NewWriter(w)
	if err := cw.Write(append([]string{"date"}, assets...)); err != nil {
		return err
	}
	for _, d := range s.dates {
		rec := make([]string, 0, len(assets)+1)
		rec = append(rec, d.Format(market.DateLayout))
		for _, a := range assets {
			if v, ok := s.weights[d][a]; ok {
				rec = append(rec, strconv.FormatFloat(v, 'f', -1, 64))
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
