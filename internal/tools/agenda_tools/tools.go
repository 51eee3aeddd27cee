// Package agenda_tools registers the Tasks and Calendar MCP tools. Every
// tool resolves the caller's session, enforces its scope requirement against
// the validated token, and records the invocation in the session history.
package agenda_tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/planfewer/internal/agenda"
	"github.com/teemow/planfewer/internal/instrumentation"
	"github.com/teemow/planfewer/internal/mcp/oauth"
	"github.com/teemow/planfewer/internal/server"
)

// requireScope checks the validated token's scopes against the tool's
// requirement. The middleware already authenticated the request; this is the
// per-tool authorization decision.
func requireScope(ctx context.Context, scope string) error {
	ac := oauth.AuthContextFrom(ctx)
	if ac == nil {
		return fmt.Errorf("request is not authenticated")
	}
	if err := ac.Scopes.SatisfiesAll(scope); err != nil {
		return fmt.Errorf("insufficient scope: %v", err)
	}
	return nil
}

// toolHandler wraps the common per-tool plumbing: scope check, session
// resolution, history recording, and metrics.
func toolHandler(sc *server.ServerContext, toolName, scope string, run func(ctx context.Context, state *server.AgendaState, args map[string]interface{}) (string, error)) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()

		if err := requireScope(ctx, scope); err != nil {
			sc.Metrics().RecordToolInvocation(ctx, toolName, "error", time.Since(start))
			return mcp.NewToolResultError(err.Error()), nil
		}

		session, state, err := sc.SessionFor(ctx)
		if err != nil {
			sc.Metrics().RecordToolInvocation(ctx, toolName, "error", time.Since(start))
			return mcp.NewToolResultError(err.Error()), nil
		}

		args, _ := request.Params.Arguments.(map[string]interface{})
		text, err := run(ctx, state, args)

		status := instrumentation.ResultSuccess
		detail := ""
		if err != nil {
			status = "error"
			detail = err.Error()
		}
		_ = sc.Sessions().Record(session.ID, server.HistoryEntry{
			Tool:   toolName,
			Detail: detail,
		})
		sc.Metrics().RecordToolInvocation(ctx, toolName, status, time.Since(start))

		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(text), nil
	}
}

func stringArg(args map[string]interface{}, key string) string {
	v, _ := args[key].(string)
	return v
}

func requiredStringArg(args map[string]interface{}, key string) (string, error) {
	v := stringArg(args, key)
	if v == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return v, nil
}

func timeArg(args map[string]interface{}, key string) (time.Time, error) {
	v := stringArg(args, key)
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be RFC 3339 (got %q)", key, v)
	}
	return t, nil
}

func marshalResult(v any) (string, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode result: %w", err)
	}
	return string(out), nil
}

// RegisterAgendaTools registers all Tasks and Calendar tools with the MCP
// server. In read-only mode the mutating tools are not registered at all.
func RegisterAgendaTools(s *mcpserver.MCPServer, sc *server.ServerContext, readOnly bool) error {
	registerTasksTools(s, sc, readOnly)
	registerCalendarTools(s, sc, readOnly)
	return nil
}

func registerTasksTools(s *mcpserver.MCPServer, sc *server.ServerContext, readOnly bool) {
	listTaskListsTool := mcp.NewTool("tasks_list_task_lists",
		mcp.WithDescription("List all task lists"),
	)
	s.AddTool(listTaskListsTool, toolHandler(sc, "tasks_list_task_lists", oauth.ScopeTasksRead,
		func(ctx context.Context, state *server.AgendaState, args map[string]interface{}) (string, error) {
			lists, err := state.Tasks.ListTaskLists()
			if err != nil {
				return "", err
			}
			return marshalResult(lists)
		}))

	listTasksTool := mcp.NewTool("tasks_list_tasks",
		mcp.WithDescription("List tasks in a task list"),
		mcp.WithString("taskListId",
			mcp.Required(),
			mcp.Description("The ID of the task list"),
		),
		mcp.WithBoolean("showCompleted",
			mcp.Description("Include completed tasks (default: false)"),
		),
	)
	s.AddTool(listTasksTool, toolHandler(sc, "tasks_list_tasks", oauth.ScopeTasksRead,
		func(ctx context.Context, state *server.AgendaState, args map[string]interface{}) (string, error) {
			taskListID, err := requiredStringArg(args, "taskListId")
			if err != nil {
				return "", err
			}
			showCompleted, _ := args["showCompleted"].(bool)
			tasks, err := state.Tasks.ListTasks(taskListID, showCompleted)
			if err != nil {
				return "", err
			}
			return marshalResult(tasks)
		}))

	getTaskTool := mcp.NewTool("tasks_get_task",
		mcp.WithDescription("Get details of a specific task"),
		mcp.WithString("taskListId",
			mcp.Required(),
			mcp.Description("The ID of the task list"),
		),
		mcp.WithString("taskId",
			mcp.Required(),
			mcp.Description("The ID of the task"),
		),
	)
	s.AddTool(getTaskTool, toolHandler(sc, "tasks_get_task", oauth.ScopeTasksRead,
		func(ctx context.Context, state *server.AgendaState, args map[string]interface{}) (string, error) {
			taskListID, err := requiredStringArg(args, "taskListId")
			if err != nil {
				return "", err
			}
			taskID, err := requiredStringArg(args, "taskId")
			if err != nil {
				return "", err
			}
			task, err := state.Tasks.GetTask(taskListID, taskID)
			if err != nil {
				return "", err
			}
			return marshalResult(task)
		}))

	if readOnly {
		return
	}

	createTaskTool := mcp.NewTool("tasks_create_task",
		mcp.WithDescription("Create a new task in a task list"),
		mcp.WithString("taskListId",
			mcp.Required(),
			mcp.Description("The ID of the task list"),
		),
		mcp.WithString("title",
			mcp.Required(),
			mcp.Description("The title of the task"),
		),
		mcp.WithString("notes",
			mcp.Description("Notes for the task"),
		),
		mcp.WithString("due",
			mcp.Description("Due date in RFC 3339 format"),
		),
	)
	s.AddTool(createTaskTool, toolHandler(sc, "tasks_create_task", oauth.ScopeTasksWrite,
		func(ctx context.Context, state *server.AgendaState, args map[string]interface{}) (string, error) {
			taskListID, err := requiredStringArg(args, "taskListId")
			if err != nil {
				return "", err
			}
			title, err := requiredStringArg(args, "title")
			if err != nil {
				return "", err
			}
			due, err := timeArg(args, "due")
			if err != nil {
				return "", err
			}
			task, err := state.Tasks.CreateTask(taskListID, agenda.TaskInput{
				Title: title,
				Notes: stringArg(args, "notes"),
				Due:   due,
			})
			if err != nil {
				return "", err
			}
			return marshalResult(task)
		}))

	completeTaskTool := mcp.NewTool("tasks_complete_task",
		mcp.WithDescription("Mark a task as completed"),
		mcp.WithString("taskListId",
			mcp.Required(),
			mcp.Description("The ID of the task list"),
		),
		mcp.WithString("taskId",
			mcp.Required(),
			mcp.Description("The ID of the task"),
		),
	)
	s.AddTool(completeTaskTool, toolHandler(sc, "tasks_complete_task", oauth.ScopeTasksWrite,
		func(ctx context.Context, state *server.AgendaState, args map[string]interface{}) (string, error) {
			taskListID, err := requiredStringArg(args, "taskListId")
			if err != nil {
				return "", err
			}
			taskID, err := requiredStringArg(args, "taskId")
			if err != nil {
				return "", err
			}
			task, err := state.Tasks.CompleteTask(taskListID, taskID)
			if err != nil {
				return "", err
			}
			return marshalResult(task)
		}))

	deleteTaskTool := mcp.NewTool("tasks_delete_task",
		mcp.WithDescription("Delete a task"),
		mcp.WithString("taskListId",
			mcp.Required(),
			mcp.Description("The ID of the task list"),
		),
		mcp.WithString("taskId",
			mcp.Required(),
			mcp.Description("The ID of the task"),
		),
	)
	s.AddTool(deleteTaskTool, toolHandler(sc, "tasks_delete_task", oauth.ScopeTasksWrite,
		func(ctx context.Context, state *server.AgendaState, args map[string]interface{}) (string, error) {
			taskListID, err := requiredStringArg(args, "taskListId")
			if err != nil {
				return "", err
			}
			taskID, err := requiredStringArg(args, "taskId")
			if err != nil {
				return "", err
			}
			if err := state.Tasks.DeleteTask(taskListID, taskID); err != nil {
				return "", err
			}
			return fmt.Sprintf("Task %s deleted", taskID), nil
		}))
}

func registerCalendarTools(s *mcpserver.MCPServer, sc *server.ServerContext, readOnly bool) {
	listEventsTool := mcp.NewTool("calendar_list_events",
		mcp.WithDescription("List events in a calendar within a time range"),
		mcp.WithString("calendarId",
			mcp.Description("Calendar ID (default: 'primary')"),
		),
		mcp.WithString("timeMin",
			mcp.Required(),
			mcp.Description("Start of the time range in RFC 3339 format"),
		),
		mcp.WithString("timeMax",
			mcp.Required(),
			mcp.Description("End of the time range in RFC 3339 format"),
		),
		mcp.WithString("query",
			mcp.Description("Free text search over event fields"),
		),
	)
	s.AddTool(listEventsTool, toolHandler(sc, "calendar_list_events", oauth.ScopeCalendarRead,
		func(ctx context.Context, state *server.AgendaState, args map[string]interface{}) (string, error) {
			calendarID := stringArg(args, "calendarId")
			if calendarID == "" {
				calendarID = "primary"
			}
			timeMin, err := timeArg(args, "timeMin")
			if err != nil {
				return "", err
			}
			timeMax, err := timeArg(args, "timeMax")
			if err != nil {
				return "", err
			}
			if timeMin.IsZero() || timeMax.IsZero() {
				return "", fmt.Errorf("timeMin and timeMax are required")
			}
			events, err := state.Calendar.ListEvents(calendarID, timeMin, timeMax, stringArg(args, "query"))
			if err != nil {
				return "", err
			}
			return marshalResult(events)
		}))

	getEventTool := mcp.NewTool("calendar_get_event",
		mcp.WithDescription("Get details of a specific calendar event"),
		mcp.WithString("calendarId",
			mcp.Description("Calendar ID (default: 'primary')"),
		),
		mcp.WithString("eventId",
			mcp.Required(),
			mcp.Description("The ID of the event"),
		),
	)
	s.AddTool(getEventTool, toolHandler(sc, "calendar_get_event", oauth.ScopeCalendarRead,
		func(ctx context.Context, state *server.AgendaState, args map[string]interface{}) (string, error) {
			calendarID := stringArg(args, "calendarId")
			if calendarID == "" {
				calendarID = "primary"
			}
			eventID, err := requiredStringArg(args, "eventId")
			if err != nil {
				return "", err
			}
			event, err := state.Calendar.GetEvent(calendarID, eventID)
			if err != nil {
				return "", err
			}
			return marshalResult(event)
		}))

	if readOnly {
		return
	}

	createEventTool := mcp.NewTool("calendar_create_event",
		mcp.WithDescription("Create a new calendar event"),
		mcp.WithString("calendarId",
			mcp.Description("Calendar ID (default: 'primary')"),
		),
		mcp.WithString("summary",
			mcp.Required(),
			mcp.Description("The event title"),
		),
		mcp.WithString("description",
			mcp.Description("The event description"),
		),
		mcp.WithString("location",
			mcp.Description("The event location"),
		),
		mcp.WithString("start",
			mcp.Required(),
			mcp.Description("Start time in RFC 3339 format"),
		),
		mcp.WithString("end",
			mcp.Required(),
			mcp.Description("End time in RFC 3339 format"),
		),
	)
	s.AddTool(createEventTool, toolHandler(sc, "calendar_create_event", oauth.ScopeCalendarWrite,
		func(ctx context.Context, state *server.AgendaState, args map[string]interface{}) (string, error) {
			calendarID := stringArg(args, "calendarId")
			if calendarID == "" {
				calendarID = "primary"
			}
			summary, err := requiredStringArg(args, "summary")
			if err != nil {
				return "", err
			}
			start, err := timeArg(args, "start")
			if err != nil {
				return "", err
			}
			end, err := timeArg(args, "end")
			if err != nil {
				return "", err
			}
			if start.IsZero() || end.IsZero() {
				return "", fmt.Errorf("start and end are required")
			}
			event, err := state.Calendar.CreateEvent(calendarID, agenda.EventInput{
				Summary:     summary,
				Description: stringArg(args, "description"),
				Location:    stringArg(args, "location"),
				Start:       start,
				End:         end,
			})
			if err != nil {
				return "", err
			}
			return marshalResult(event)
		}))

	deleteEventTool := mcp.NewTool("calendar_delete_event",
		mcp.WithDescription("Delete a calendar event"),
		mcp.WithString("calendarId",
			mcp.Description("Calendar ID (default: 'primary')"),
		),
		mcp.WithString("eventId",
			mcp.Required(),
			mcp.Description("The ID of the event"),
		),
	)
	s.AddTool(deleteEventTool, toolHandler(sc, "calendar_delete_event", oauth.ScopeCalendarWrite,
		func(ctx context.Context, state *server.AgendaState, args map[string]interface{}) (string, error) {
			calendarID := stringArg(args, "calendarId")
			if calendarID == "" {
				calendarID = "primary"
			}
			eventID, err := requiredStringArg(args, "eventId")
			if err != nil {
				return "", err
			}
			if err := state.Calendar.DeleteEvent(calendarID, eventID); err != nil {
				return "", err
			}
			return fmt.Sprintf("Event %s deleted", eventID), nil
		}))
}
