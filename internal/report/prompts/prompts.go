// Package prompts holds the daily report prompt templates.
package prompts

import (
	_ "embed"
	"strings"
)

// EmptyNarrative replaces a blank narrative inside the reflection prompt.
const EmptyNarrative = "无"

var (
	//go:embed today.md
	todayTemplate string
	//go:embed tomorrow.md
	tomorrowTemplate string
	//go:embed think.md
	thinkTemplate string
)

// Today renders the completed-work prompt around a JSON task list.
func Today(tasksJSON string) string {
	return strings.NewReplacer("{{today_finish_tasks}}", tasksJSON).Replace(todayTemplate)
}

// Tomorrow renders the upcoming-work prompt around a JSON task list.
func Tomorrow(tasksJSON string) string {
	return strings.NewReplacer("{{tomorrow_todo_tasks}}", tasksJSON).Replace(tomorrowTemplate)
}

func Think(todayReport, tomorrowReport string) string {
	return strings.NewReplacer(
		"{{today_report}}", orEmpty(todayReport),
		"{{tomorrow_report}}", orEmpty(tomorrowReport),
	).Replace(thinkTemplate)
}

func orEmpty(s string) string {
	if strings.TrimSpace(s) == "" {
		return EmptyNarrative
	}
	return s
}
