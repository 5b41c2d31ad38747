// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package portal

import (
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/sessionguard/internal/ui/components"
	"github.com/jeranaias/sessionguard/internal/ui/styles"
)

// View implements tea.Model.
func (m Model) View() string {
	width := m.width
	if width <= 0 {
		width = 80
	}

	var body string
	if m.auth.Authenticated() {
		body = lipgloss.JoinVertical(lipgloss.Left, m.viewNav(), "", m.viewPage())
	} else {
		body = m.viewLogin()
	}

	bar := components.StatusBar{
		Route:  m.router.Path(),
		Status: m.session.Status(),
	}
	if m.auth.Authenticated() {
		bar.Account = m.auth.Account()
		bar.Hints = helpText(m.keys.Extend, m.keys.SignOut)
	} else {
		bar.Hints = helpText(m.keys.Submit, m.keys.Quit)
	}

	parts := []string{body}
	if toasts := m.toasts.View(width, 0); toasts != "" {
		parts = append(parts, toasts)
	}
	content := lipgloss.JoinVertical(lipgloss.Left, parts...)

	statusBar := bar.View(width)
	if m.height > 0 {
		pad := m.height - lipgloss.Height(content) - lipgloss.Height(statusBar)
		if pad > 0 {
			content += strings.Repeat("\n", pad)
		}
	}
	return content + "\n" + statusBar
}

func (m Model) viewNav() string {
	current := m.router.Path()
	items := make([]string, 0, len(m.router.Routes()))
	for i, rt := range m.router.Routes() {
		label := strconv.Itoa(i+1) + " " + rt.Title
		if rt.Path == current {
			items = append(items, styles.NavActiveStyle.Render(label))
		} else {
			items = append(items, styles.NavItemStyle.Render(label))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, items...)
}

func (m Model) viewPage() string {
	title := styles.TitleStyle.Render(m.router.Title(m.router.Path()))
	return lipgloss.JoinVertical(lipgloss.Left,
		title,
		"",
		lipgloss.NewStyle().Foreground(styles.TextSecondary).Render("Nothing to show yet."),
	)
}

func (m Model) viewLogin() string {
	lines := []string{
		styles.TitleStyle.Render("Sign in"),
		"",
		lipgloss.NewStyle().Foreground(styles.TextSecondary).
			Render("Enter the 6-digit code from your authenticator app."),
		"",
		m.input.View(),
	}
	if m.loginErr != "" {
		lines = append(lines, "", styles.ErrorTextStyle.Render(m.loginErr))
	}
	return lipgloss.NewStyle().Padding(1, 2).Render(strings.Join(lines, "\n"))
}
