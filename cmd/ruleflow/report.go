package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	rfv1 "github.com/gxo-labs/ruleflow/pkg/ruleflow/v1"
	"github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/rule"
)

const maxDetailWidth = 60

var (
	headerStyle   = lipgloss.NewStyle().Bold(true)
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	approvedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	rejectedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	boxStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)

	statusStyles = map[rule.Status]lipgloss.Style{
		rule.StatusSuccess: lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		rule.StatusError:   lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
		rule.StatusTimeout: lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
	}
)

// renderReport formats a StepResult as a boxed table for terminals.
func renderReport(r *rfv1.StepResult) string {
	verdict := approvedStyle.Render("APPROVED")
	if !r.Approved {
		verdict = rejectedStyle.Render("REJECTED")
	}
	lines := []string{
		headerStyle.Render(fmt.Sprintf("%s / %s", r.ProductCode, r.StepCode)) + "  " + verdict,
		dimStyle.Render("request " + r.RequestID + "  " + r.Timestamp.Format("2006-01-02 15:04:05 MST")),
	}
	if r.ErrorMessage != "" {
		lines = append(lines, rejectedStyle.Render(r.ErrorMessage))
	}

	nameWidth := len("RULE")
	for _, o := range r.RuleResults {
		if len(o.RuleName) > nameWidth {
			nameWidth = len(o.RuleName)
		}
	}
	nameCol := lipgloss.NewStyle().Width(nameWidth + 2)
	statusCol := lipgloss.NewStyle().Width(9)
	durationCol := lipgloss.NewStyle().Width(10).Align(lipgloss.Right).PaddingRight(2)

	if len(r.RuleResults) > 0 {
		lines = append(lines, "", headerStyle.Render(lipgloss.JoinHorizontal(lipgloss.Top,
			nameCol.Render("RULE"), statusCol.Render("STATUS"), durationCol.Render("TIME"), "DETAIL")))
	}
	for _, o := range r.RuleResults {
		style, ok := statusStyles[o.Status]
		if !ok {
			style = lipgloss.NewStyle()
		}
		lines = append(lines, lipgloss.JoinHorizontal(lipgloss.Top,
			nameCol.Render(o.RuleName),
			statusCol.Inherit(style).Render(string(o.Status)),
			durationCol.Render(fmt.Sprintf("%dms", o.DurationMs)),
			outcomeDetail(o),
		))
	}
	return boxStyle.Render(strings.Join(lines, "\n"))
}

func outcomeDetail(o rule.Outcome) string {
	var detail string
	switch {
	case o.ErrorMessage != "":
		detail = o.ErrorMessage
	case o.Value != nil:
		b, err := json.Marshal(o.Value)
		if err != nil {
			detail = fmt.Sprintf("%v", o.Value)
		} else {
			detail = string(b)
		}
	}
	if o.Fallback {
		detail = "(fallback) " + detail
	}
	if len(detail) > maxDetailWidth {
		detail = detail[:maxDetailWidth-3] + "..."
	}
	if o.Attempts > 1 {
		detail += dimStyle.Render(fmt.Sprintf(" [%d attempts]", o.Attempts))
	}
	return detail
}
