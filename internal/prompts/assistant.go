package prompts

import (
	"fmt"
	"strings"
	"time"

	"github.com/nugget/huddle/internal/intent"
)

// baseInstructions are sent on every request.
const baseInstructions = `You are Huddle, the assistant built into a team workspace. The workspace has chat channels, Kanban boards with task cards, notes, and a shared calendar.

## How to answer
- Use the workspace tools to look things up before answering questions about tasks, boards, messages, notes, or events. Do not guess IDs.
- Tool results are raw data. Summarize them for the user; do not paste JSON.
- Keep answers short. Use markdown lists for more than three items.
- Dates and times are in the user's workspace; resolve "today", "tomorrow" and "this week" against the current time below.
- If a tool fails, say what you could not do. Do not retry the same call more than once.
- You have a small budget of steps per message. Prefer one well-chosen tool call over many exploratory ones.

## Writes
Creating tasks, notes, events, or messages changes shared data. Only do it when the user asked for it, and confirm what you created with its title.`

// clauseWorkspaceOnly is added when no integration was requested.
const clauseWorkspaceOnly = `## Integrations
Third-party integrations (email, Slack, GitHub and the like) are not available for this message. Answer from workspace data only. If the user wants something done in another app, tell them to mention the app by name.`

// clauseIntegrations is added when the user asked for specific apps.
const clauseIntegrations = `## Integrations
The user asked for %s. You may use the tools for %s to act on their behalf. These actions reach people and systems outside the workspace: follow the request exactly, never invent recipients or repositories, and report what was sent or created. Do not use integrations the user did not mention.`

// System returns the system prompt for one request. allowExternal
// selects the integration clause; apps names the integrations in scope
// and is ignored when allowExternal is false.
func System(allowExternal bool, apps []intent.App, now time.Time) string {
	var sb strings.Builder
	sb.WriteString(baseInstructions)
	sb.WriteString("\n\n")

	if allowExternal && len(apps) > 0 {
		names := appNames(apps)
		sb.WriteString(fmt.Sprintf(clauseIntegrations, names, names))
	} else {
		sb.WriteString(clauseWorkspaceOnly)
	}

	sb.WriteString("\n\n## Current time\n")
	sb.WriteString(now.Format("Monday, January 2, 2006 15:04 MST"))
	return sb.String()
}

var appDisplay = map[intent.App]string{
	intent.Gmail:   "Gmail",
	intent.Slack:   "Slack",
	intent.GitHub:  "GitHub",
	intent.Notion:  "Notion",
	intent.ClickUp: "ClickUp",
	intent.Linear:  "Linear",
}

// appNames renders apps as an English list: "Gmail", "Gmail and Slack",
// "Gmail, Slack and GitHub".
func appNames(apps []intent.App) string {
	names := make([]string, 0, len(apps))
	for _, a := range apps {
		if n, ok := appDisplay[a]; ok {
			names = append(names, n)
		} else {
			names = append(names, string(a))
		}
	}
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0]
	}
	return strings.Join(names[:len(names)-1], ", ") + " and " + names[len(names)-1]
}
