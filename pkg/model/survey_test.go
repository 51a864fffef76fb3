package model_test

import (
	"errors"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/wwetzel/maven-demo-day/pkg/model"
)

func validRecord() *model.SurveyRecord {
	return &model.SurveyRecord{
		ID:           model.NewRecordID(1),
		TermYear:     2023,
		TermMonth:    4,
		JobTitle:     "design engineer",
		BusinessUnit: "business unit A",
		Gender:       "female",
		QuitReason:   "Long commute and no remote option",
		Sentiment:    "Negative",
		NPS:          3,
	}
}

func TestSurveyRecordValidate(t *testing.T) {
	gt.NoError(t, validRecord().Validate())

	testCases := []struct {
		name   string
		mutate func(r *model.SurveyRecord)
	}{
		{"year too early", func(r *model.SurveyRecord) { r.TermYear = 2018 }},
		{"month zero", func(r *model.SurveyRecord) { r.TermMonth = 0 }},
		{"unknown job title", func(r *model.SurveyRecord) { r.JobTitle = "janitor" }},
		{"unknown business unit", func(r *model.SurveyRecord) { r.BusinessUnit = "business unit Z" }},
		{"unknown gender", func(r *model.SurveyRecord) { r.Gender = "n/a" }},
		{"empty quit reason", func(r *model.SurveyRecord) { r.QuitReason = "" }},
		{"unknown sentiment", func(r *model.SurveyRecord) { r.Sentiment = "Ecstatic" }},
		{"nps too high", func(r *model.SurveyRecord) { r.NPS = 11 }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r := validRecord()
			tc.mutate(r)
			err := r.Validate()
			gt.Error(t, err)
			gt.True(t, errors.Is(err, model.ErrInvalidRecord))
		})
	}
}

func TestSurveyRecordToDocument(t *testing.T) {
	r := validRecord()
	doc := r.ToDocument()

	gt.Equal(t, doc.ID, "rec-00001")
	gt.Equal(t, doc.Content, r.QuitReason)
	gt.Map(t, doc.Metadata).HasKey("job_title")
	_, hasText := doc.Metadata["main_quit_reason_text"]
	gt.False(t, hasText)
	gt.A(t, r.Values()).Length(len(model.SurveyColumns))
}
