package export

import (
	"context"
	"encoding/csv"
	"os"
)

type csvWriter struct{}

func (csvWriter) extension() string { return "csv" }

func (csvWriter) write(ctx context.Context, path string, rows []locatedRow) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(columns); err != nil {
		return err
	}
	record := make([]string, len(columns))
	for _, r := range rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		for i, v := range flatten(r) {
			record[i] = formatCell(v)
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Close()
}
