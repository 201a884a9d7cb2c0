package prompts

import (
	"strings"
	"testing"
	"time"

	"github.com/nugget/huddle/internal/intent"
)

var testNow = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

func TestSystem_WorkspaceOnly(t *testing.T) {
	got := System(false, nil, testNow)

	if !strings.HasPrefix(got, baseInstructions) {
		t.Error("prompt should start with the base instructions")
	}
	if !strings.Contains(got, "not available for this message") {
		t.Error("workspace-only prompt should forbid integrations")
	}
	if strings.Contains(got, "You may use the tools for") {
		t.Error("workspace-only prompt should not grant integrations")
	}
	if !strings.Contains(got, "Monday, March 2, 2026 09:30 UTC") {
		t.Errorf("prompt missing current time:\n%s", got)
	}
}

func TestSystem_Integrations(t *testing.T) {
	got := System(true, []intent.App{intent.Gmail, intent.Slack}, testNow)

	if !strings.Contains(got, "The user asked for Gmail and Slack.") {
		t.Errorf("prompt should name the requested apps:\n%s", got)
	}
	if strings.Contains(got, "not available for this message") {
		t.Error("integration prompt should not carry the workspace-only clause")
	}
}

func TestSystem_AllowExternalWithoutApps(t *testing.T) {
	got := System(true, nil, testNow)
	if !strings.Contains(got, "not available for this message") {
		t.Error("no apps means the workspace-only clause")
	}
}

func TestAppNames(t *testing.T) {
	tests := []struct {
		apps []intent.App
		want string
	}{
		{nil, ""},
		{[]intent.App{intent.GitHub}, "GitHub"},
		{[]intent.App{intent.Gmail, intent.Linear}, "Gmail and Linear"},
		{[]intent.App{intent.Gmail, intent.Slack, intent.ClickUp}, "Gmail, Slack and ClickUp"},
		{[]intent.App{"jira"}, "jira"},
	}
	for _, tt := range tests {
		if got := appNames(tt.apps); got != tt.want {
			t.Errorf("appNames(%v) = %q, want %q", tt.apps, got, tt.want)
		}
	}
}
