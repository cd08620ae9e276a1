package marketdata

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/wonny/forge/internal/contracts"
)

// ReadCSV parses daily bars from a header row plus date,open,high,low,close,volume
// records. Column order follows the header; dates are YYYY-MM-DD. The result is
// sorted oldest first with duplicate dates collapsed to the last record.
func ReadCSV(r io.Reader) ([]contracts.Bar, error) {
	cr := csv.NewReader(bufio.NewReaderSize(r, 1<<16))
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("csv: missing header")
		}
		return nil, fmt.Errorf("csv header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, name := range []string{"date", "open", "high", "low", "close", "volume"} {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("csv: missing column %q", name)
		}
	}

	byDate := make(map[time.Time]contracts.Bar)
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		bar, err := parseRecord(rec, cols)
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		byDate[bar.Date] = bar
	}

	bars := make([]contracts.Bar, 0, len(byDate))
	for _, b := range byDate {
		bars = append(bars, b)
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	return bars, nil
}

func parseRecord(rec []string, cols map[string]int) (contracts.Bar, error) {
	field := func(name string) string { return strings.TrimSpace(rec[cols[name]]) }

	date, err := time.Parse("2006-01-02", field("date"))
	if err != nil {
		return contracts.Bar{}, fmt.Errorf("date: %w", err)
	}
	bar := contracts.Bar{Date: date}
	for name, dst := range map[string]*float64{"open": &bar.Open, "high": &bar.High, "low": &bar.Low, "close": &bar.Close} {
		v, err := strconv.ParseFloat(field(name), 64)
		if err != nil {
			return contracts.Bar{}, fmt.Errorf("%s: %w", name, err)
		}
		*dst = v
	}
	vol, err := strconv.ParseFloat(field("volume"), 64)
	if err != nil {
		return contracts.Bar{}, fmt.Errorf("volume: %w", err)
	}
	bar.Volume = int64(vol)

	if bar.Close <= 0 {
		return contracts.Bar{}, fmt.Errorf("close must be positive, got %v", bar.Close)
	}
	return bar, nil
}
