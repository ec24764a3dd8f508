// Package caldav mirrors appointments into a CalDAV calendar such as iCloud.
package caldav

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"therapycal/internal/ics"
	"therapycal/internal/models"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"
	"github.com/google/uuid"
)

// ICloudEndpoint is used when no endpoint is configured.
const ICloudEndpoint = "https://caldav.icloud.com/"

// customTransport handles adding Basic Auth and custom headers to requests.
type customTransport struct {
	Username  string
	Password  string
	Transport http.RoundTripper
}

// RoundTrip adds required headers and authentication to each request.
func (t *customTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.SetBasicAuth(t.Username, t.Password)
	req.Header.Set("User-Agent", "therapycal/1.0")
	return t.Transport.RoundTrip(req)
}

// Client is a calendar backend talking to a CalDAV server.
type Client struct {
	caldavClient *caldav.Client
	webdavClient *webdav.Client
	logger       *slog.Logger
	loc          *time.Location
	calendarPath string
}

// NewClient connects to endpoint and resolves the calendar called calendarName.
func NewClient(ctx context.Context, logger *slog.Logger, endpoint, username, password, calendarName string, loc *time.Location) (*Client, error) {
	if endpoint == "" {
		endpoint = ICloudEndpoint
	}
	transport := &customTransport{
		Username:  username,
		Password:  password,
		Transport: http.DefaultTransport,
	}
	httpClient := &http.Client{Transport: transport}

	caldavClient, err := caldav.NewClient(httpClient, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create caldav client: %w", err)
	}

	webdavClient, err := webdav.NewClient(httpClient, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create webdav client: %w", err)
	}

	c := &Client{
		caldavClient: caldavClient,
		webdavClient: webdavClient,
		logger:       logger,
		loc:          loc,
	}

	logger.Info("Finding CalDAV calendar", "calendarName", calendarName, "endpoint", endpoint)
	calendarPath, err := c.findCalendar(ctx, calendarName)
	if err != nil {
		return nil, fmt.Errorf("could not find calendar '%s': %w", calendarName, err)
	}
	c.calendarPath = calendarPath
	logger.Info("Successfully found CalDAV calendar", "path", calendarPath)

	return c, nil
}

// CreateEvent stores a new event and returns its UID.
func (c *Client) CreateEvent(ctx context.Context, a models.Appointment) (string, error) {
	uid := uuid.NewString()
	if err := c.put(ctx, uid, a); err != nil {
		return "", err
	}
	c.logger.Debug("Created CalDAV event", "appointmentID", a.ID, "uid", uid)
	return uid, nil
}

// UpdateEvent overwrites the event stored under uid.
func (c *Client) UpdateEvent(ctx context.Context, uid string, a models.Appointment) error {
	if err := c.put(ctx, uid, a); err != nil {
		return err
	}
	c.logger.Debug("Updated CalDAV event", "appointmentID", a.ID, "uid", uid)
	return nil
}

func (c *Client) put(ctx context.Context, uid string, a models.Appointment) error {
	cal := ics.NewCalendar()
	cal.Children = append(cal.Children, ics.Component(a, uid, c.loc))

	if _, err := c.caldavClient.PutCalendarObject(ctx, objectPath(c.calendarPath, uid), cal); err != nil {
		return fmt.Errorf("failed to store event on CalDAV server: %w", err)
	}
	return nil
}

// DeleteEvent removes the event stored under uid.
func (c *Client) DeleteEvent(ctx context.Context, uid string) error {
	if err := c.webdavClient.RemoveAll(ctx, objectPath(c.calendarPath, uid)); err != nil {
		return fmt.Errorf("failed to delete event from CalDAV server: %w", err)
	}
	c.logger.Debug("Deleted CalDAV event", "uid", uid)
	return nil
}

// ListEvents returns the events overlapping [start, end).
func (c *Client) ListEvents(ctx context.Context, start, end time.Time) ([]models.Event, error) {
	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name: ical.CompCalendar,
			Comps: []caldav.CalendarCompRequest{{
				Name:     ical.CompEvent,
				AllProps: true,
			}},
		},
		CompFilter: caldav.CompFilter{
			Name: ical.CompCalendar,
			Comps: []caldav.CompFilter{{
				Name:  ical.CompEvent,
				Start: start.UTC(),
				End:   end.UTC(),
			}},
		},
	}

	objects, err := c.caldavClient.QueryCalendar(ctx, c.calendarPath, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query CalDAV calendar: %w", err)
	}

	var events []models.Event
	for _, obj := range objects {
		if obj.Data == nil {
			continue
		}
		for _, comp := range obj.Data.Children {
			if comp.Name != ical.CompEvent {
				continue
			}
			ev, err := ics.EventOf(comp, c.loc)
			if err != nil {
				c.logger.Warn("Skipping unreadable CalDAV event", "path", obj.Path, "error", err)
				continue
			}
			if ev.Updated.IsZero() {
				ev.Updated = obj.ModTime
			}
			events = append(events, ev)
		}
	}
	c.logger.Debug("Fetched CalDAV events", "count", len(events))
	return events, nil
}

// findCalendar discovers the user's calendars and returns the path of the one with the matching name.
func (c *Client) findCalendar(ctx context.Context, name string) (string, error) {
	principalPath, err := c.caldavClient.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to find principal path: %w", err)
	}

	homeSetPath, err := c.caldavClient.FindCalendarHomeSet(ctx, principalPath)
	if err != nil {
		return "", fmt.Errorf("failed to find calendar home set: %w", err)
	}

	calendars, err := c.caldavClient.FindCalendars(ctx, homeSetPath)
	if err != nil {
		return "", fmt.Errorf("failed to find calendars: %w", err)
	}

	for _, cal := range calendars {
		if cal.Name == name {
			return cal.Path, nil
		}
	}

	return "", fmt.Errorf("no calendar found with name '%s'", name)
}

// objectPath is the resource path of the event with the given UID.
func objectPath(calendarPath, uid string) string {
	if !strings.HasSuffix(calendarPath, "/") {
		calendarPath += "/"
	}
	return path.Join(calendarPath, uid+".ics")
}
