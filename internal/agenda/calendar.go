package agenda

import (
	"context"
	"fmt"
	"net/http"
	"time"

	calendar "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// EventSummary represents a calendar event
type EventSummary struct {
	ID          string
	Summary     string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
	AllDay      bool
	Attendees   []string
}

// EventInput represents the input for creating an event
type EventInput struct {
	Summary     string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
	Attendees   []string
}

// CalendarClient wraps the Google Calendar service
type CalendarClient struct {
	svc *calendar.Service
}

// NewCalendarClient creates a Calendar client on top of an authenticated HTTP client.
func NewCalendarClient(ctx context.Context, httpClient *http.Client) (*CalendarClient, error) {
	svc, err := calendar.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("failed to create Calendar service: %w", err)
	}
	return &CalendarClient{svc: svc}, nil
}

// ListEvents lists events in a calendar within a time range
func (c *CalendarClient) ListEvents(calendarID string, timeMin, timeMax time.Time, query string) ([]EventSummary, error) {
	call := c.svc.Events.List(calendarID).
		TimeMin(timeMin.Format(time.RFC3339)).
		TimeMax(timeMax.Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime")

	if query != "" {
		call = call.Q(query)
	}

	events, err := call.Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}

	var summaries []EventSummary
	for _, event := range events.Items {
		summaries = append(summaries, toEventSummary(event))
	}
	return summaries, nil
}

// GetEvent retrieves a specific event by ID
func (c *CalendarClient) GetEvent(calendarID, eventID string) (*EventSummary, error) {
	event, err := c.svc.Events.Get(calendarID, eventID).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	summary := toEventSummary(event)
	return &summary, nil
}

// CreateEvent creates a new event in a calendar
func (c *CalendarClient) CreateEvent(calendarID string, input EventInput) (*EventSummary, error) {
	event := &calendar.Event{
		Summary:     input.Summary,
		Description: input.Description,
		Location:    input.Location,
		Start: &calendar.EventDateTime{
			DateTime: input.Start.Format(time.RFC3339),
		},
		End: &calendar.EventDateTime{
			DateTime: input.End.Format(time.RFC3339),
		},
	}
	for _, attendee := range input.Attendees {
		event.Attendees = append(event.Attendees, &calendar.EventAttendee{Email: attendee})
	}

	created, err := c.svc.Events.Insert(calendarID, event).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to create event: %w", err)
	}
	summary := toEventSummary(created)
	return &summary, nil
}

// DeleteEvent deletes an event from a calendar
func (c *CalendarClient) DeleteEvent(calendarID, eventID string) error {
	if err := c.svc.Events.Delete(calendarID, eventID).Do(); err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}
	return nil
}

// toEventSummary converts a Google Calendar event to our EventSummary type
func toEventSummary(event *calendar.Event) EventSummary {
	if event == nil {
		return EventSummary{}
	}

	summary := EventSummary{
		ID:          event.Id,
		Summary:     event.Summary,
		Description: event.Description,
		Location:    event.Location,
	}

	if event.Start != nil {
		if event.Start.DateTime != "" {
			if t, err := time.Parse(time.RFC3339, event.Start.DateTime); err == nil {
				summary.Start = t
			}
		} else if event.Start.Date != "" {
			if t, err := time.Parse("2006-01-02", event.Start.Date); err == nil {
				summary.Start = t
				summary.AllDay = true
			}
		}
	}
	if event.End != nil {
		if event.End.DateTime != "" {
			if t, err := time.Parse(time.RFC3339, event.End.DateTime); err == nil {
				summary.End = t
			}
		} else if event.End.Date != "" {
			if t, err := time.Parse("2006-01-02", event.End.Date); err == nil {
				summary.End = t
			}
		}
	}

	for _, attendee := range event.Attendees {
		if attendee != nil && attendee.Email != "" {
			summary.Attendees = append(summary.Attendees, attendee.Email)
		}
	}

	return summary
}
