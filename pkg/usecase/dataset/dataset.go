package dataset

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/wwetzel/maven-demo-day/pkg/adapter"
	"github.com/wwetzel/maven-demo-day/pkg/model"
	"github.com/wwetzel/maven-demo-day/pkg/repository"
	"github.com/wwetzel/maven-demo-day/pkg/utils/logging"
	"github.com/xuri/excelize/v2"
)

// DefaultPath is the dataset file used when DATA_FP is not set
const DefaultPath = "maven_final_synthetic_data.xlsx"

var ErrUnsupportedFormat = goerr.New("unsupported dataset format")

// Loader reads exit survey rows from an xlsx or csv file
type Loader struct {
	strict  bool
	sheet   string
	storage func(ctx context.Context, bucket string) (adapter.Storage, error)
}

type Option func(*Loader)

// WithStrict makes any invalid row fail the whole load instead of being skipped
func WithStrict(strict bool) Option {
	return func(l *Loader) {
		l.strict = strict
	}
}

// WithSheet selects the worksheet of an xlsx file. The first sheet is used by default.
func WithSheet(sheet string) Option {
	return func(l *Loader) {
		l.sheet = sheet
	}
}

// WithStorage replaces the Cloud Storage client factory used for gs:// paths
func WithStorage(f func(ctx context.Context, bucket string) (adapter.Storage, error)) Option {
	return func(l *Loader) {
		l.storage = f
	}
}

func New(opts ...Option) *Loader {
	l := &Loader{storage: adapter.NewStorage}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Report summarizes one load
type Report struct {
	Rows    int
	Loaded  int
	Skipped int
}

// Load reads every valid record from path. Local paths and gs://bucket/key are accepted.
func (l *Loader) Load(ctx context.Context, path string) ([]*model.SurveyRecord, *Report, error) {
	r, err := l.open(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	defer r.Close()

	var rows [][]string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		rows, err = l.readXLSX(r)
	case ".csv":
		rows, err = readCSV(r)
	default:
		return nil, nil, goerr.Wrap(ErrUnsupportedFormat, "unknown file extension", goerr.V("path", path))
	}
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to read dataset", goerr.V("path", path))
	}

	return l.parse(ctx, rows)
}

func (l *Loader) open(ctx context.Context, path string) (io.ReadCloser, error) {
	if bucket, key, ok := adapter.ParseGCSURL(path); ok {
		st, err := l.storage(ctx, bucket)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create storage client", goerr.V("bucket", bucket))
		}
		return st.Get(ctx, key)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open dataset", goerr.V("path", path))
	}
	return f, nil
}

func (l *Loader) readXLSX(r io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open workbook")
	}
	defer f.Close()

	sheet := l.sheet
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, goerr.New("workbook has no sheet")
		}
		sheet = sheets[0]
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read sheet", goerr.V("sheet", sheet))
	}
	return rows, nil
}

func readCSV(r io.Reader) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, goerr.Wrap(err, "failed to parse csv")
	}
	return rows, nil
}

// parse maps the header row onto survey columns and converts the remaining rows
func (l *Loader) parse(ctx context.Context, rows [][]string) ([]*model.SurveyRecord, *Report, error) {
	if len(rows) == 0 {
		return nil, nil, goerr.New("dataset is empty")
	}

	index := map[string]int{}
	for i, h := range rows[0] {
		index[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, col := range model.SurveyColumns {
		if col == model.ColumnID {
			continue
		}
		if _, ok := index[strings.ToLower(col)]; !ok {
			return nil, nil, goerr.New("missing column in dataset header", goerr.V("column", col))
		}
	}

	logger := logging.From(ctx)
	report := &Report{}
	records := make([]*model.SurveyRecord, 0, len(rows)-1)

	for n, row := range rows[1:] {
		if isBlank(row) {
			continue
		}
		report.Rows++
		line := n + 2

		rec, err := toRecord(row, index, n+1)
		if err == nil {
			err = rec.Validate()
		}
		if err != nil {
			if l.strict {
				return nil, nil, goerr.Wrap(err, "invalid row", goerr.V("line", line))
			}
			logger.Warn("skipping invalid row", "line", line, "error", err)
			report.Skipped++
			continue
		}

		records = append(records, rec)
		report.Loaded++
	}

	return records, report, nil
}

func toRecord(row []string, index map[string]int, n int) (*model.SurveyRecord, error) {
	get := func(col string) string {
		i, ok := index[strings.ToLower(col)]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}
	atoi := func(col string) (int, error) {
		s := get(col)
		// spreadsheets often store integers as floats
		if f, err := strconv.ParseFloat(s, 64); err == nil && f == float64(int(f)) {
			return int(f), nil
		}
		return 0, goerr.Wrap(model.ErrInvalidRecord, "not an integer", goerr.V("column", col), goerr.V("value", s))
	}

	rec := &model.SurveyRecord{
		ID:           get(model.ColumnID),
		JobTitle:     get(model.ColumnJobTitle),
		BusinessUnit: get(model.ColumnBusinessUnit),
		Gender:       get(model.ColumnGender),
		QuitReason:   get(model.ColumnQuitReason),
		Sentiment:    get(model.ColumnSentiment),
	}
	if rec.ID == "" {
		rec.ID = model.NewRecordID(n)
	}

	var err error
	if rec.TermYear, err = atoi(model.ColumnTermYear); err != nil {
		return nil, err
	}
	if rec.TermMonth, err = atoi(model.ColumnTermMonth); err != nil {
		return nil, err
	}
	if rec.NPS, err = atoi(model.ColumnNPS); err != nil {
		return nil, err
	}
	return rec, nil
}

func isBlank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// Import creates the survey table when missing and stores the records
func Import(ctx context.Context, repo repository.Repository, records []*model.SurveyRecord) error {
	if err := repo.Migrate(ctx); err != nil {
		return goerr.Wrap(err, "failed to migrate store")
	}
	if err := repo.PutRecords(ctx, records); err != nil {
		return goerr.Wrap(err, "failed to store survey records", goerr.V("count", len(records)))
	}
	logging.From(ctx).Info("survey records imported", "count", len(records))
	return nil
}
