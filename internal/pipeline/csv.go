package pipeline

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/shpitdev/lead-engagement-pipeline/internal/lead"
)

// ScoresHeader is the header of the scores CSV: the lead's input index and
// email followed by ScoreAttributes.
func ScoresHeader() []string {
	return append([]string{"index", "email"}, scoreAttributes...)
}

// WriteScoresCSV writes one row per scored lead.
func WriteScoresCSV(w io.Writer, scored []lead.ScoredLead) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ScoresHeader()); err != nil {
		return err
	}
	for _, s := range scored {
		rec := append([]string{strconv.Itoa(s.Index), s.Lead.Email}, ScoreRow(s)...)
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteFilteredCSV writes the filtered leads table.
func WriteFilteredCSV(w io.Writer, filtered []lead.ScoredLead) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(append([]string{"index", "email"}, filteredColumns...)); err != nil {
		return err
	}
	for _, s := range filtered {
		if err := cw.Write(append([]string{strconv.Itoa(s.Index), s.Lead.Email}, FilteredRow(s)...)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteEmailsCSV writes one row per drafted email with its token usage.
func WriteEmailsCSV(w io.Writer, emails []lead.EmailDraft) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"index", "name", "company", "email", "body", "total_tokens"}); err != nil {
		return err
	}
	for _, d := range emails {
		if err := cw.Write([]string{
			strconv.Itoa(d.Index),
			d.Lead.Name,
			d.Lead.Company,
			d.Lead.Email,
			d.Body,
			strconv.Itoa(d.Usage.TotalTokens),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
