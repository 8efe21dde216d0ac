package export

import (
	"context"
	"encoding/json"
	"os"
)

type jsonWriter struct{}

func (jsonWriter) extension() string { return "json" }

func (jsonWriter) write(ctx context.Context, path string, rows []locatedRow) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(rows); err != nil {
		return err
	}
	return f.Close()
}
