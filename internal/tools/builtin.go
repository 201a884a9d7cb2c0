package tools

import "github.com/nugget/huddle/internal/intent"

func str(desc string) Property  { return Property{Type: "string", Description: desc} }
func num(desc string) Property  { return Property{Type: "integer", Description: desc} }
func flag(desc string) Property { return Property{Type: "boolean", Description: desc} }

var scoped = ContextRequirements{NeedsWorkspaceID: true, NeedsUserID: true}
var workspaceScoped = ContextRequirements{NeedsWorkspaceID: true}

// workspaceTools are the internal tools over workspace data. They are
// offered on every request.
func workspaceTools() []Definition {
	return []Definition{
		{
			Name:        "get_my_tasks",
			Description: "List the tasks assigned to the current user across the workspace's boards. Use this for questions like 'what are my tasks today' or 'what is overdue'.",
			Parameters: Schema{Properties: map[string]Property{
				"status": str("Optional status filter: todo, in_progress, done"),
				"due":    str("Optional due window: today, this_week, overdue"),
				"limit":  num("Maximum number of tasks to return (default 20)"),
			}},
			Kind:    KindRead,
			Binding: "tasks:getMyTasks",
			Context: scoped,
		},
		{
			Name:        "get_board",
			Description: "Get a Kanban board with its columns and cards.",
			Parameters: Schema{
				Properties: map[string]Property{"board_id": str("The board ID")},
				Required:   []string{"board_id"},
			},
			Kind:    KindRead,
			Binding: "boards:getBoard",
			Context: workspaceScoped,
		},
		{
			Name:        "create_task",
			Description: "Create a task card on a board.",
			Parameters: Schema{
				Properties: map[string]Property{
					"board_id":    str("The board to add the card to"),
					"title":       str("Short task title"),
					"description": str("Optional longer description"),
					"assignee_id": str("Optional user ID to assign"),
					"due_date":    str("Optional due date, ISO 8601"),
				},
				Required: []string{"board_id", "title"},
			},
			Kind:    KindWrite,
			Binding: "tasks:createTask",
			Context: scoped,
		},
		{
			Name:        "update_task_status",
			Description: "Move a task to a different status column.",
			Parameters: Schema{
				Properties: map[string]Property{
					"task_id": str("The task ID"),
					"status":  str("New status: todo, in_progress, done"),
				},
				Required: []string{"task_id", "status"},
			},
			Kind:    KindWrite,
			Binding: "tasks:updateStatus",
			Context: scoped,
		},
		{
			Name:        "list_channels",
			Description: "List the chat channels in the workspace that the user is a member of.",
			Parameters:  Schema{Properties: map[string]Property{}},
			Kind:        KindRead,
			Binding:     "channels:listForUser",
			Context:     scoped,
		},
		{
			Name:        "search_messages",
			Description: "Search chat messages in the workspace's channels.",
			Parameters: Schema{
				Properties: map[string]Property{
					"query":      str("Text to search for"),
					"channel_id": str("Optional channel to restrict the search to"),
					"limit":      num("Maximum number of messages to return (default 20)"),
				},
				Required: []string{"query"},
			},
			Kind:    KindRead,
			Binding: "messages:search",
			Context: scoped,
		},
		{
			Name:        "post_channel_message",
			Description: "Post a message to one of the workspace's own chat channels (not Slack).",
			Parameters: Schema{
				Properties: map[string]Property{
					"channel_id": str("The channel ID"),
					"body":       str("Message text"),
				},
				Required: []string{"channel_id", "body"},
			},
			Kind:    KindWrite,
			Binding: "messages:post",
			Context: scoped,
		},
		{
			Name:        "list_notes",
			Description: "List notes in the workspace, most recently edited first.",
			Parameters: Schema{Properties: map[string]Property{
				"limit": num("Maximum number of notes to return (default 20)"),
			}},
			Kind:    KindRead,
			Binding: "notes:list",
			Context: scoped,
		},
		{
			Name:        "get_note",
			Description: "Read the full content of a note.",
			Parameters: Schema{
				Properties: map[string]Property{"note_id": str("The note ID")},
				Required:   []string{"note_id"},
			},
			Kind:    KindRead,
			Binding: "notes:get",
			Context: scoped,
		},
		{
			Name:        "create_note",
			Description: "Create a new note in the workspace.",
			Parameters: Schema{
				Properties: map[string]Property{
					"title":   str("Note title"),
					"content": str("Note body in markdown"),
				},
				Required: []string{"title"},
			},
			Kind:    KindWrite,
			Binding: "notes:create",
			Context: scoped,
		},
		{
			Name:        "get_calendar_events",
			Description: "List calendar events for the user within a date range.",
			Parameters: Schema{Properties: map[string]Property{
				"start": str("Range start, ISO 8601 (default: now)"),
				"end":   str("Range end, ISO 8601 (default: 7 days from start)"),
			}},
			Kind:    KindRead,
			Binding: "calendar:listEvents",
			Context: scoped,
		},
		{
			Name:        "create_calendar_event",
			Description: "Create a calendar event in the workspace calendar.",
			Parameters: Schema{
				Properties: map[string]Property{
					"title":     str("Event title"),
					"start":     str("Start time, ISO 8601"),
					"end":       str("End time, ISO 8601"),
					"attendees": str("Optional comma-separated user IDs"),
					"all_day":   flag("Whether the event lasts all day"),
				},
				Required: []string{"title", "start"},
			},
			Kind:    KindWrite,
			Binding: "calendar:createEvent",
			Context: scoped,
		},
		{
			Name:        "search_workspace",
			Description: "Semantic search across tasks, notes, and messages in the workspace. Use when the user asks about something without saying where it lives.",
			Parameters: Schema{
				Properties: map[string]Property{
					"query": str("What to search for"),
					"limit": num("Maximum number of results (default 10)"),
				},
				Required: []string{"query"},
			},
			Kind:    KindAction,
			Binding: "search:workspace",
			Context: scoped,
		},
	}
}

// integrationTools are offered only when their app is requested.
func integrationTools() []Definition {
	return []Definition{
		{
			Name:        "gmail_send_email",
			Description: "Send an email from the user's connected Gmail account. The body may use markdown.",
			Parameters: Schema{
				Properties: map[string]Property{
					"to":      str("Recipient address, or comma-separated addresses"),
					"cc":      str("Optional comma-separated CC addresses"),
					"subject": str("Subject line"),
					"body":    str("Message body in markdown"),
				},
				Required: []string{"to", "subject", "body"},
			},
			Kind:        KindAction,
			Binding:     "gmail:sendEmail",
			Context:     scoped,
			ExternalApp: intent.Gmail,
		},
		{
			Name:        "gmail_search_inbox",
			Description: "Search the user's Gmail inbox and return matching message envelopes (sender, subject, date).",
			Parameters: Schema{Properties: map[string]Property{
				"query": str("Optional text to search for"),
				"from":  str("Optional sender filter"),
				"limit": num("Maximum number of messages (default 10)"),
			}},
			Kind:        KindAction,
			Binding:     "gmail:searchInbox",
			Context:     scoped,
			ExternalApp: intent.Gmail,
		},
		{
			Name:        "slack_post_message",
			Description: "Post a message to a Slack channel in the user's connected Slack workspace.",
			Parameters: Schema{
				Properties: map[string]Property{
					"channel": str("Slack channel name or ID (default: the configured channel)"),
					"text":    str("Message text (Slack mrkdwn)"),
				},
				Required: []string{"text"},
			},
			Kind:        KindAction,
			Binding:     "slack:postMessage",
			Context:     scoped,
			ExternalApp: intent.Slack,
		},
		{
			Name:        "github_create_issue",
			Description: "Open an issue in a GitHub repository.",
			Parameters: Schema{
				Properties: map[string]Property{
					"repo":   str("Repository as owner/name, or just name for the default owner"),
					"title":  str("Issue title"),
					"body":   str("Issue body in markdown"),
					"labels": str("Optional comma-separated labels"),
				},
				Required: []string{"repo", "title"},
			},
			Kind:        KindAction,
			Binding:     "github:createIssue",
			Context:     scoped,
			ExternalApp: intent.GitHub,
		},
		{
			Name:        "github_list_issues",
			Description: "List issues in a GitHub repository.",
			Parameters: Schema{
				Properties: map[string]Property{
					"repo":  str("Repository as owner/name, or just name for the default owner"),
					"state": str("open (default), closed, or all"),
					"limit": num("Maximum number of issues (default 20)"),
				},
				Required: []string{"repo"},
			},
			Kind:        KindAction,
			Binding:     "github:listIssues",
			Context:     scoped,
			ExternalApp: intent.GitHub,
		},
		{
			Name:        "notion_create_page",
			Description: "Create a page in the user's connected Notion workspace.",
			Parameters: Schema{
				Properties: map[string]Property{
					"title":   str("Page title"),
					"content": str("Page body as plain paragraphs separated by blank lines"),
					"parent":  str("Optional parent page ID (default: the configured page)"),
				},
				Required: []string{"title"},
			},
			Kind:        KindAction,
			Binding:     "notion:createPage",
			Context:     scoped,
			ExternalApp: intent.Notion,
		},
		{
			Name:        "clickup_create_task",
			Description: "Create a task in a ClickUp list.",
			Parameters: Schema{
				Properties: map[string]Property{
					"list_id":     str("ClickUp list ID (default: the configured list)"),
					"name":        str("Task name"),
					"description": str("Optional description"),
				},
				Required: []string{"name"},
			},
			Kind:        KindAction,
			Binding:     "clickup:createTask",
			Context:     scoped,
			ExternalApp: intent.ClickUp,
		},
		{
			Name:        "linear_create_issue",
			Description: "Create an issue in Linear.",
			Parameters: Schema{
				Properties: map[string]Property{
					"team_id":     str("Linear team ID (default: the configured team)"),
					"title":       str("Issue title"),
					"description": str("Optional description in markdown"),
				},
				Required: []string{"title"},
			},
			Kind:        KindAction,
			Binding:     "linear:createIssue",
			Context:     scoped,
			ExternalApp: intent.Linear,
		},
	}
}
