package cli

import (
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/sandeepkv93/session-security-engine/internal/domain"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle    = lipgloss.NewStyle().Padding(0, 1)
	successStyle = cellStyle.Foreground(lipgloss.Color("42"))
	failureStyle = cellStyle.Foreground(lipgloss.Color("196"))
)

var eventHeaders = []string{"ID", "TIME", "USER", "IP", "COUNTRY", "RESULT", "REASON"}

func eventRow(e domain.LoginEvent) []string {
	user, country, result := "-", "-", "fail"
	if e.UserID != nil {
		user = strconv.FormatUint(uint64(*e.UserID), 10)
	}
	if e.Country != nil {
		country = *e.Country
	}
	if e.Success {
		result = "ok"
	}
	return []string{
		strconv.FormatUint(uint64(e.ID), 10),
		e.CreatedAt.UTC().Format(time.RFC3339),
		user, e.IP, country, result, e.Reason,
	}
}

// renderEvents draws a styled table, or tab-separated lines when styled is
// false.
func renderEvents(events []domain.LoginEvent, styled bool) string {
	if !styled {
		lines := []string{strings.Join(eventHeaders, "\t")}
		for _, e := range events {
			lines = append(lines, strings.Join(eventRow(e), "\t"))
		}
		return strings.Join(lines, "\n")
	}
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		Headers(eventHeaders...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if col == 5 && row >= 0 && row < len(events) {
				if events[row].Success {
					return successStyle
				}
				return failureStyle
			}
			return cellStyle
		})
	for _, e := range events {
		t.Row(eventRow(e)...)
	}
	return t.String()
}
