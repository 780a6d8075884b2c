// Package report builds periodic PDF summaries of archived support
// sessions for the operations team.
package report

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/jung-kurt/gofpdf"

	"github.com/sunqar-kz/qoldau/internal/convo"
	"github.com/sunqar-kz/qoldau/internal/domain"
	"github.com/sunqar-kz/qoldau/internal/logging"
)

// ArchiveLister is the slice of the session store the generator needs.
type ArchiveLister interface {
	ListArchivedBetween(since, until time.Time) ([]domain.Session, error)
}

// Summary aggregates one reporting period.
type Summary struct {
	Since      time.Time `json:"since"`
	Until      time.Time `json:"until"`
	Sessions   int       `json:"sessions"`
	Turns      int       `json:"turns"`
	Resolved   int       `json:"resolved"`
	Escalated  int       `json:"escalated"`
	VoiceNotes int       `json:"voiceNotes"`
	Users      int       `json:"users"`
}

// Summarize computes period aggregates over archived sessions.
func Summarize(sessions []domain.Session, since, until time.Time) Summary {
	s := Summary{Since: since, Until: until, Sessions: len(sessions)}
	users := map[string]struct{}{}
	for _, sess := range sessions {
		users[sess.UserID] = struct{}{}
		if sess.ResolvedAt != nil {
			s.Resolved++
		}
		escalated := false
		for _, turn := range sess.Turns {
			s.Turns++
			if turn.MediaRef != "" {
				s.VoiceNotes++
			}
			if turn.Reply == convo.ReplyEscalated {
				escalated = true
			}
		}
		if escalated {
			s.Escalated++
		}
	}
	s.Users = len(users)
	return s
}

// Generator renders period reports from the archive.
type Generator struct {
	store ArchiveLister
	log   *logging.Logger
}

// NewGenerator creates a report generator.
func NewGenerator(store ArchiveLister, log *logging.Logger) *Generator {
	return &Generator{store: store, log: log.Sub("report")}
}

// Generate writes a PDF covering the trailing period of the given length
// and returns the computed summary.
func (g *Generator) Generate(w io.Writer, period time.Duration) (Summary, error) {
	until := time.Now()
	since := until.Add(-period)
	sessions, err := g.store.ListArchivedBetween(since, until)
	if err != nil {
		return Summary{}, fmt.Errorf("load archive: %w", err)
	}
	summary := Summarize(sessions, since, until)
	g.log.Info().
		Int("sessions", summary.Sessions).
		Int("turns", summary.Turns).
		Msg("report generated")
	return summary, WritePDF(w, summary, sessions)
}

// WritePDF renders the summary and the per-session transcript digest.
func WritePDF(w io.Writer, summary Summary, sessions []domain.Session) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Support period report", false)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.Cell(0, 10, "Support period report")
	pdf.Ln(12)

	pdf.SetFont("Helvetica", "", 11)
	pdf.Cell(0, 6, fmt.Sprintf("Period: %s to %s",
		summary.Since.Format("2006-01-02 15:04"),
		summary.Until.Format("2006-01-02 15:04")))
	pdf.Ln(8)

	for _, line := range []string{
		fmt.Sprintf("Sessions handled: %d (%d distinct users)", summary.Sessions, summary.Users),
		fmt.Sprintf("Messages exchanged: %d (%d voice notes)", summary.Turns, summary.VoiceNotes),
		fmt.Sprintf("Resolved: %d", summary.Resolved),
		fmt.Sprintf("Escalated to an agent: %d", summary.Escalated),
	} {
		pdf.Cell(0, 6, line)
		pdf.Ln(6)
	}

	sorted := make([]domain.Session, len(sessions))
	copy(sorted, sessions)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	for _, sess := range sorted {
		pdf.Ln(4)
		pdf.SetFont("Helvetica", "B", 12)
		pdf.Cell(0, 7, fmt.Sprintf("User %s  (%s, %d messages)", sess.UserID, sess.State, len(sess.Turns)))
		pdf.Ln(7)
		pdf.SetFont("Helvetica", "", 10)
		for _, turn := range sess.Turns {
			content := turn.Content
			if turn.MediaRef != "" {
				content = "[voice] " + turn.MediaRef
			}
			pdf.MultiCell(0, 5, fmt.Sprintf("%s  %s: %s",
				turn.At.Format("01-02 15:04"), turn.Role, content), "", "L", false)
		}
	}

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("render pdf: %w", err)
	}
	return nil
}
