package agenda

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"google.golang.org/api/option"
	tasks "google.golang.org/api/tasks/v1"
)

// TaskList represents a Google Tasks task list
type TaskList struct {
	ID      string
	Title   string
	Updated time.Time
}

// Task represents a Google Tasks task
type Task struct {
	ID        string
	Title     string
	Notes     string
	Status    string // "needsAction" or "completed"
	Due       time.Time
	Completed time.Time
}

// TaskInput represents the input for creating or updating a task
type TaskInput struct {
	Title  string
	Notes  string
	Status string
	Due    time.Time
}

// TasksClient wraps the Google Tasks service
type TasksClient struct {
	svc *tasks.Service
}

// NewTasksClient creates a Tasks client on top of an authenticated HTTP client.
func NewTasksClient(ctx context.Context, httpClient *http.Client) (*TasksClient, error) {
	svc, err := tasks.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("failed to create Tasks service: %w", err)
	}
	return &TasksClient{svc: svc}, nil
}

// ListTaskLists lists all task lists for the authenticated user
func (c *TasksClient) ListTaskLists() ([]TaskList, error) {
	result, err := c.svc.Tasklists.List().Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list task lists: %w", err)
	}

	var taskLists []TaskList
	for _, tl := range result.Items {
		taskLists = append(taskLists, toTaskList(tl))
	}
	return taskLists, nil
}

// ListTasks lists tasks in a task list
func (c *TasksClient) ListTasks(taskListID string, showCompleted bool) ([]Task, error) {
	call := c.svc.Tasks.List(taskListID).ShowCompleted(showCompleted)
	result, err := call.Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}

	var out []Task
	for _, t := range result.Items {
		out = append(out, toTask(t))
	}
	return out, nil
}

// GetTask retrieves a specific task
func (c *TasksClient) GetTask(taskListID, taskID string) (*Task, error) {
	t, err := c.svc.Tasks.Get(taskListID, taskID).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	result := toTask(t)
	return &result, nil
}

// CreateTask creates a new task in a task list
func (c *TasksClient) CreateTask(taskListID string, input TaskInput) (*Task, error) {
	t := &tasks.Task{
		Title: input.Title,
		Notes: input.Notes,
	}
	if input.Status != "" {
		t.Status = input.Status
	}
	if !input.Due.IsZero() {
		t.Due = input.Due.Format(time.RFC3339)
	}

	created, err := c.svc.Tasks.Insert(taskListID, t).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}
	result := toTask(created)
	return &result, nil
}

// CompleteTask marks a task as completed
func (c *TasksClient) CompleteTask(taskListID, taskID string) (*Task, error) {
	t, err := c.svc.Tasks.Get(taskListID, taskID).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}

	t.Status = "completed"
	updated, err := c.svc.Tasks.Update(taskListID, taskID, t).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to complete task: %w", err)
	}
	result := toTask(updated)
	return &result, nil
}

// DeleteTask deletes a task
func (c *TasksClient) DeleteTask(taskListID, taskID string) error {
	if err := c.svc.Tasks.Delete(taskListID, taskID).Do(); err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	return nil
}

// toTaskList converts a Google Tasks TaskList to our TaskList type
func toTaskList(tl *tasks.TaskList) TaskList {
	if tl == nil {
		return TaskList{}
	}

	result := TaskList{
		ID:    tl.Id,
		Title: tl.Title,
	}
	if tl.Updated != "" {
		if t, err := time.Parse(time.RFC3339, tl.Updated); err == nil {
			result.Updated = t
		}
	}
	return result
}

// toTask converts a Google Tasks Task to our Task type
func toTask(t *tasks.Task) Task {
	if t == nil {
		return Task{}
	}

	result := Task{
		ID:     t.Id,
		Title:  t.Title,
		Notes:  t.Notes,
		Status: t.Status,
	}
	if t.Due != "" {
		if due, err := time.Parse(time.RFC3339, t.Due); err == nil {
			result.Due = due
		}
	}
	if t.Completed != nil && *t.Completed != "" {
		if completed, err := time.Parse(time.RFC3339, *t.Completed); err == nil {
			result.Completed = completed
		}
	}
	return result
}
