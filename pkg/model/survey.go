package model

import (
	"fmt"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/m-mizutani/goerr/v2"
)

var (
	ErrInvalidRecord = goerr.New("invalid survey record")
)

// Column names of the exit survey table. They are also the metadata keys of
// embedded documents.
const (
	ColumnID           = "id"
	ColumnTermYear     = "term_year"
	ColumnTermMonth    = "term_month"
	ColumnJobTitle     = "job_title"
	ColumnBusinessUnit = "business_unit"
	ColumnGender       = "Gender"
	ColumnQuitReason   = "main_quit_reason_text"
	ColumnSentiment    = "main_quit_reason_text_sentiment"
	ColumnNPS          = "nps"
)

// SurveyColumns is the column order used by the store and by dataset files
var SurveyColumns = []string{
	ColumnID,
	ColumnTermYear,
	ColumnTermMonth,
	ColumnJobTitle,
	ColumnBusinessUnit,
	ColumnGender,
	ColumnQuitReason,
	ColumnSentiment,
	ColumnNPS,
}

var (
	JobTitles = []string{
		"superintendent 1",
		"superintendent 2",
		"design engineer",
		"field engineer 1",
		"field engineer 2",
		"project manager 1",
	}
	BusinessUnits = []string{
		"business unit A",
		"business unit B",
		"business unit C",
		"business unit D",
		"business unit E",
	}
	Genders    = []string{"male", "female"}
	Sentiments = []string{
		"Very Positive",
		"Positive",
		"Neutral",
		"Negative",
		"Very Negative",
	}
)

// SurveyRecord is one employee exit event
type SurveyRecord struct {
	ID           string `json:"id" validate:"required"`
	TermYear     int    `json:"term_year" validate:"min=2019,max=2024"`
	TermMonth    int    `json:"term_month" validate:"min=1,max=12"`
	JobTitle     string `json:"job_title" validate:"required,job_title"`
	BusinessUnit string `json:"business_unit" validate:"required,business_unit"`
	Gender       string `json:"Gender" validate:"required,oneof=male female"`
	QuitReason   string `json:"main_quit_reason_text" validate:"required"`
	Sentiment    string `json:"main_quit_reason_text_sentiment" validate:"required,sentiment"`
	NPS          int    `json:"nps" validate:"min=1,max=10"`
}

// NewRecordID builds a stable record ID from the row number of the source dataset
func NewRecordID(row int) string {
	return fmt.Sprintf("rec-%05d", row)
}

var recordValidator = newRecordValidator()

func newRecordValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	enum := func(values []string) validator.Func {
		return func(fl validator.FieldLevel) bool {
			return slices.Contains(values, fl.Field().String())
		}
	}
	// RegisterValidation only fails on empty tag names
	_ = v.RegisterValidation("job_title", enum(JobTitles))
	_ = v.RegisterValidation("business_unit", enum(BusinessUnits))
	_ = v.RegisterValidation("sentiment", enum(Sentiments))
	return v
}

// Validate checks value ranges and enum membership of the record
func (r *SurveyRecord) Validate() error {
	if err := recordValidator.Struct(r); err != nil {
		var fields []string
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				fields = append(fields, fe.Field()+":"+fe.Tag())
			}
		}
		return goerr.Wrap(ErrInvalidRecord, err.Error(),
			goerr.V("id", r.ID),
			goerr.V("fields", strings.Join(fields, ",")))
	}
	return nil
}

// Metadata returns every attribute except the free-text field, keyed by column name
func (r *SurveyRecord) Metadata() map[string]any {
	return map[string]any{
		ColumnTermYear:     r.TermYear,
		ColumnTermMonth:    r.TermMonth,
		ColumnJobTitle:     r.JobTitle,
		ColumnBusinessUnit: r.BusinessUnit,
		ColumnGender:       r.Gender,
		ColumnSentiment:    r.Sentiment,
		ColumnNPS:          r.NPS,
	}
}

// Values returns column values in SurveyColumns order
func (r *SurveyRecord) Values() []any {
	return []any{
		r.ID,
		r.TermYear,
		r.TermMonth,
		r.JobTitle,
		r.BusinessUnit,
		r.Gender,
		r.QuitReason,
		r.Sentiment,
		r.NPS,
	}
}

// ToDocument converts the record into an index document without embedding
func (r *SurveyRecord) ToDocument() *Document {
	return &Document{
		ID:       r.ID,
		Content:  r.QuitReason,
		Metadata: r.Metadata(),
	}
}
