package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"prism-board/domain"
	"prism-board/session"
)

var namedColors = map[string]lipgloss.Color{
	"blue":   lipgloss.Color("33"),
	"yellow": lipgloss.Color("220"),
	"green":  lipgloss.Color("42"),
	"red":    lipgloss.Color("196"),
	"purple": lipgloss.Color("135"),
	"orange": lipgloss.Color("208"),
	"gray":   lipgloss.Color("245"),
}

func boardColor(name string) lipgloss.Color {
	if c, ok := namedColors[strings.ToLower(name)]; ok {
		return c
	}
	if strings.HasPrefix(name, "#") {
		return lipgloss.Color(name)
	}
	return lipgloss.Color("252")
}

// renderBoards draws one bordered column per board.
func renderBoards(doc domain.Document, width int) string {
	if width < 12 {
		width = 12
	}
	cols := make([]string, 0, len(doc.Boards))
	for _, b := range doc.Boards {
		header := lipgloss.NewStyle().
			Bold(true).
			Foreground(boardColor(b.Color)).
			Width(width - 2).
			Align(lipgloss.Center).
			Render(fmt.Sprintf("%s (%d)", b.Title, len(b.Cards)))
		lines := []string{header, lipgloss.NewStyle().Faint(true).Width(width - 2).Align(lipgloss.Center).Render(fmt.Sprintf("#%d", b.ID))}
		for _, c := range b.Cards {
			lines = append(lines, renderCard(c, width-4))
		}
		col := lipgloss.NewStyle().
			Width(width).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(boardColor(b.Color)).
			Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
		cols = append(cols, col)
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, cols...)
}

func renderCard(c domain.Card, width int) string {
	style := lipgloss.NewStyle().Width(width).Padding(0, 1).MarginTop(1)
	if c.BackgroundColor != "" {
		style = style.Foreground(boardColor(c.BackgroundColor))
	}
	lines := []string{lipgloss.NewStyle().Bold(true).Render(c.Title), fmt.Sprintf("#%d", c.ID)}
	if c.Assignee != "" {
		lines = append(lines, "@"+c.Assignee)
	}
	if c.DueDate != "" {
		lines = append(lines, "due "+c.DueDate)
	}
	if c.HasReminder() {
		lines = append(lines, "remind "+c.ReminderDateTime)
	}
	return style.Render(strings.Join(lines, "\n"))
}

// renderStatus summarizes a snapshot in one line.
func renderStatus(s session.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "version %d", s.Document.Version)
	if s.Document.LastUpdatedBy != "" {
		fmt.Fprintf(&b, " by %s", s.Document.LastUpdatedBy)
	}
	if s.Document.LastUpdated != "" {
		fmt.Fprintf(&b, " at %s", s.Document.LastUpdated)
	}
	fmt.Fprintf(&b, " [%s]", s.State)
	if !s.Connected {
		b.WriteString(" disconnected")
	}
	if s.SaveFailed {
		b.WriteString(" save failed")
	}
	return lipgloss.NewStyle().Faint(true).Render(b.String())
}
