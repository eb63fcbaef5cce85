package lead

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/shpitdev/lead-engagement-pipeline/pkg/pipeline/schema"
)

// InputContract is the column contract of the lead input file.
var InputContract = schema.Contract{Fields: []schema.Field{
	{Name: "name", Type: "STRING"},
	{Name: "job_title", Type: "STRING"},
	{Name: "company", Type: "STRING"},
	{Name: "email", Type: "STRING"},
	{Name: "usecase", Type: "STRING"},
}}

// ReadCSV reads leads from a CSV with a header row. Extra columns are ignored and
// values are returned verbatim, in row order.
func ReadCSV(r io.Reader) ([]Lead, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return nil, &SchemaError{Missing: InputContract.Header(), Detail: "empty file"}
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if missing := InputContract.Missing(header); len(missing) > 0 {
		return nil, &SchemaError{Missing: missing}
	}
	idx := InputContract.Index(header)

	var leads []Lead
	for row := 1; ; row++ {
		rec, err := cr.Read()
		if err == io.EOF {
			return leads, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", row, err)
		}
		for _, col := range InputContract.Header() {
			if idx[col] >= len(rec) {
				return nil, &SchemaError{Row: row, Detail: fmt.Sprintf("has %d columns, want at least %d", len(rec), idx[col]+1)}
			}
		}
		leads = append(leads, Lead{
			Name:     rec[idx["name"]],
			JobTitle: rec[idx["job_title"]],
			Company:  rec[idx["company"]],
			Email:    rec[idx["email"]],
			UseCase:  rec[idx["usecase"]],
		})
	}
}

// ReadFile opens path and reads it with ReadCSV.
func ReadFile(path string) ([]Lead, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrInputNotFound, path)
		}
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()
	return ReadCSV(f)
}

// FileSource loads leads from a CSV file on disk.
type FileSource struct {
	Path string
}

// Load implements core.InputAdapter.
func (s FileSource) Load(ctx context.Context) ([]Lead, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return ReadFile(s.Path)
}
