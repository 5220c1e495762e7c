// Package sheets reads pending declarations from a Google spreadsheet and writes lookup results back.
package sheets

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"

	"github.com/jonathan/customs-lookup/internal/types"
)

// firstDataRow is the first row under the header.
const firstDataRow = 2

// MissingValue is written when the selected field is absent from a result.
const MissingValue = "N/A"

var spreadsheetIDPattern = regexp.MustCompile(`/spreadsheets/d/([a-zA-Z0-9_-]+)`)

// SpreadsheetID extracts the document id from a spreadsheet URL.
func SpreadsheetID(url string) (string, error) {
	m := spreadsheetIDPattern.FindStringSubmatch(url)
	if m == nil {
		return "", fmt.Errorf("no spreadsheet id in %q", url)
	}
	return m[1], nil
}

// ColumnIndex converts A1 column letters to a 1-based index ("A" is 1, "AA" is 27).
func ColumnIndex(letters string) (int, error) {
	if letters == "" {
		return 0, fmt.Errorf("empty column")
	}
	idx := 0
	for _, r := range strings.ToUpper(letters) {
		if r < 'A' || r > 'Z' {
			return 0, fmt.Errorf("invalid column %q", letters)
		}
		idx = idx*26 + int(r-'A'+1)
	}
	return idx, nil
}

// ColumnLetters converts a 1-based index back to A1 letters.
func ColumnLetters(index int) string {
	var b []byte
	for index > 0 {
		index--
		b = append([]byte{byte('A' + index%26)}, b...)
		index /= 26
	}
	return string(b)
}

// quoteSheet quotes a sheet name for an A1 range.
func quoteSheet(name string) string {
	return "'" + strings.ReplaceAll(name, "'", "''") + "'"
}

// Values is the part of the Sheets API the client uses.
type Values interface {
	Get(ctx context.Context, a1Range string) ([][]interface{}, error)
	Update(ctx context.Context, a1Range string, rows [][]interface{}) error
}

// Options selects the worksheet and columns.
type Options struct {
	SheetName   string
	ReadColumn  string
	WriteColumn string
	// ResultField is the portal field written back for each declaration.
	ResultField string
}

// Client is a task source and result sink over one worksheet.
type Client struct {
	values   Values
	opts     Options
	readCol  int
	writeCol int
	logger   *zap.Logger
}

// New connects to the spreadsheet at url with service-account credentials.
func New(ctx context.Context, url, credentialsFile string, opts Options, logger *zap.Logger) (*Client, error) {
	id, err := SpreadsheetID(url)
	if err != nil {
		return nil, err
	}
	svc, err := gsheets.NewService(ctx,
		option.WithCredentialsFile(credentialsFile),
		option.WithScopes(gsheets.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}
	return NewWithValues(&apiValues{svc: svc, id: id}, opts, logger)
}

// NewWithValues builds a client over any Values implementation.
func NewWithValues(values Values, opts Options, logger *zap.Logger) (*Client, error) {
	readCol, err := ColumnIndex(opts.ReadColumn)
	if err != nil {
		return nil, fmt.Errorf("read column: %w", err)
	}
	writeCol, err := ColumnIndex(opts.WriteColumn)
	if err != nil {
		return nil, fmt.Errorf("write column: %w", err)
	}
	if readCol == writeCol {
		return nil, fmt.Errorf("read and write column are both %s", opts.ReadColumn)
	}
	return &Client{values: values, opts: opts, readCol: readCol, writeCol: writeCol, logger: logger}, nil
}

// PendingTasks returns the rows whose write column is empty and whose read column holds only digits.
// A declaration listed twice is taken from its first row.
func (c *Client) PendingTasks(ctx context.Context) ([]types.DeclarationTask, error) {
	lo, hi := min(c.readCol, c.writeCol), max(c.readCol, c.writeCol)
	a1 := fmt.Sprintf("%s!%s%d:%s", quoteSheet(c.opts.SheetName), ColumnLetters(lo), firstDataRow, ColumnLetters(hi))
	rows, err := c.values.Get(ctx, a1)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", a1, err)
	}

	cell := func(row []interface{}, col int) string {
		i := col - lo
		if i >= len(row) || row[i] == nil {
			return ""
		}
		return strings.TrimSpace(fmt.Sprint(row[i]))
	}

	var tasks []types.DeclarationTask
	seen := make(map[string]bool)
	for i, row := range rows {
		number := cell(row, c.readCol)
		if cell(row, c.writeCol) != "" || !isDigits(number) {
			continue
		}
		if seen[number] {
			c.logger.Warn("duplicate declaration in sheet", zap.String("declaration", number), zap.Int("row", i+firstDataRow))
			continue
		}
		seen[number] = true
		tasks = append(tasks, types.DeclarationTask{Number: number, Row: i + firstDataRow})
	}
	c.logger.Info("pending declarations", zap.String("sheet", c.opts.SheetName), zap.Int("count", len(tasks)))
	return tasks, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// SaveResult writes the selected field of a result into the task's row, as text.
func (c *Client) SaveResult(ctx context.Context, task types.DeclarationTask, fields map[string]string) error {
	if task.Row < firstDataRow {
		return fmt.Errorf("declaration %s has no sheet row", task.Number)
	}
	value, ok := fields[c.opts.ResultField]
	if !ok {
		value = MissingValue
	}
	a1 := fmt.Sprintf("%s!%s%d", quoteSheet(c.opts.SheetName), ColumnLetters(c.writeCol), task.Row)
	if err := c.values.Update(ctx, a1, [][]interface{}{{"'" + value}}); err != nil {
		return fmt.Errorf("failed to write %s: %w", a1, err)
	}
	c.logger.Debug("result written", zap.String("declaration", task.Number), zap.String("range", a1))
	return nil
}

type apiValues struct {
	svc *gsheets.Service
	id  string
}

func (a *apiValues) Get(ctx context.Context, a1Range string) ([][]interface{}, error) {
	resp, err := a.svc.Spreadsheets.Values.Get(a.id, a1Range).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	return resp.Values, nil
}

func (a *apiValues) Update(ctx context.Context, a1Range string, rows [][]interface{}) error {
	_, err := a.svc.Spreadsheets.Values.Update(a.id, a1Range, &gsheets.ValueRange{Values: rows}).
		ValueInputOption("USER_ENTERED").
		Context(ctx).
		Do()
	return err
}
