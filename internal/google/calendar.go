package google

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"therapycal/internal/models"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/time/rate"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

const (
	credentialsFile = "credentials.json"

	// managedFilter selects events written by this application.
	managedKey    = "therapycal"
	managedFilter = managedKey + "=1"
)

// scopes grants event writes plus the calendar list read by ListCalendars.
var scopes = []string{calendar.CalendarEventsScope, calendar.CalendarReadonlyScope}

// Private extended property keys carrying appointment metadata.
const (
	propAppointmentID = "appointmentId"
	propStatus        = "status"
	propModality      = "modality"
	propPatientID     = "patientId"
	propPatientName   = "patientName"
	propTherapistID   = "therapistId"
	propTherapistName = "therapistName"
)

// CalendarClient provides a client for interacting with the Google Calendar API.
type CalendarClient struct {
	service    *calendar.Service
	logger     *slog.Logger
	calendarID string
	loc        *time.Location
	limiter    *rate.Limiter
}

// NewClient creates a new Google Calendar client.
// It supports multiple accounts by looking for token files like token-user1.json, token-user2.json, etc.
// The accountName is used to find the correct token file.
func NewClient(ctx context.Context, logger *slog.Logger, clientID, clientSecret, accountName, calendarID string, loc *time.Location) (*CalendarClient, error) {
	config, err := getOAuthConfig(clientID, clientSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to get OAuth config: %w", err)
	}

	token, err := tokenFromFile(TokenFile(accountName))
	if err != nil {
		return nil, fmt.Errorf("could not load token for account %s: %w. Please run the 'auth' command first", accountName, err)
	}

	client := config.Client(ctx, token)
	service, err := calendar.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}

	return newCalendarClient(service, logger, calendarID, loc), nil
}

func newCalendarClient(service *calendar.Service, logger *slog.Logger, calendarID string, loc *time.Location) *CalendarClient {
	if calendarID == "" {
		calendarID = "primary"
	}
	return &CalendarClient{
		service:    service,
		logger:     logger,
		calendarID: calendarID,
		loc:        loc,
		// Google allows roughly ten requests per second per user.
		limiter: rate.NewLimiter(rate.Every(time.Second/5), 5),
	}
}

// CreateEvent inserts the appointment and returns the Google event ID.
func (c *CalendarClient) CreateEvent(ctx context.Context, a models.Appointment) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}
	created, err := c.service.Events.Insert(c.calendarID, toGoogle(a, c.loc)).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to insert event: %w", err)
	}
	c.logger.Debug("Created Google event", "appointmentID", a.ID, "eventID", created.Id)
	return created.Id, nil
}

// UpdateEvent replaces the Google event with the appointment's content.
func (c *CalendarClient) UpdateEvent(ctx context.Context, eventID string, a models.Appointment) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	if _, err := c.service.Events.Update(c.calendarID, eventID, toGoogle(a, c.loc)).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to update event %s: %w", eventID, err)
	}
	c.logger.Debug("Updated Google event", "appointmentID", a.ID, "eventID", eventID)
	return nil
}

// DeleteEvent removes the Google event.
func (c *CalendarClient) DeleteEvent(ctx context.Context, eventID string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	if err := c.service.Events.Delete(c.calendarID, eventID).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to delete event %s: %w", eventID, err)
	}
	c.logger.Debug("Deleted Google event", "eventID", eventID)
	return nil
}

// ListEvents fetches the managed events overlapping [start, end).
func (c *CalendarClient) ListEvents(ctx context.Context, start, end time.Time) ([]models.Event, error) {
	c.logger.Debug("Fetching events", "calendarID", c.calendarID, "start", start, "end", end)

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	var out []models.Event
	call := c.service.Events.List(c.calendarID).
		Context(ctx).
		ShowDeleted(false).
		SingleEvents(true).
		PrivateExtendedProperty(managedFilter).
		TimeMin(start.Format(time.RFC3339)).
		TimeMax(end.Format(time.RFC3339)).
		OrderBy("startTime")
	err := call.Pages(ctx, func(page *calendar.Events) error {
		for _, item := range page.Items {
			ev, ok := fromGoogle(item, c.loc)
			if !ok {
				continue
			}
			out = append(out, ev)
		}
		if page.NextPageToken != "" {
			return c.limiter.Wait(ctx)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve events: %w", err)
	}

	c.logger.Info("Successfully fetched events from Google Calendar", "count", len(out), "calendarID", c.calendarID)
	return out, nil
}

// toGoogle converts an appointment to a Google Calendar event.
func toGoogle(a models.Appointment, loc *time.Location) *calendar.Event {
	private := map[string]string{
		managedKey:        "1",
		propAppointmentID: a.ID,
		propStatus:        string(a.Status),
		propModality:      string(a.Modality),
	}
	for key, value := range map[string]string{
		propPatientID:     a.PatientID,
		propPatientName:   a.PatientName,
		propTherapistID:   a.TherapistID,
		propTherapistName: a.TherapistName,
	} {
		if value != "" {
			private[key] = value
		}
	}

	return &calendar.Event{
		Summary:     models.Title(a),
		Description: a.Notes,
		Location:    a.Location,
		Start:       &calendar.EventDateTime{DateTime: a.Start(loc).Format(time.RFC3339)},
		End:         &calendar.EventDateTime{DateTime: a.End(loc).Format(time.RFC3339)},
		ExtendedProperties: &calendar.EventExtendedProperties{
			Private: private,
		},
	}
}

// fromGoogle converts a Google Calendar event to the internal Event model.
// All-day events are skipped.
func fromGoogle(item *calendar.Event, loc *time.Location) (models.Event, bool) {
	if item.Start == nil || item.Start.DateTime == "" || item.End == nil || item.End.DateTime == "" {
		return models.Event{}, false
	}
	startTime, err := time.Parse(time.RFC3339, item.Start.DateTime)
	if err != nil {
		return models.Event{}, false
	}
	endTime, err := time.Parse(time.RFC3339, item.End.DateTime)
	if err != nil {
		return models.Event{}, false
	}

	var private map[string]string
	if item.ExtendedProperties != nil {
		private = item.ExtendedProperties.Private
	}

	ev := models.Event{
		ID:            item.Id,
		AppointmentID: private[propAppointmentID],
		Title:         item.Summary,
		Notes:         item.Description,
		StartTime:     startTime.In(loc),
		EndTime:       endTime.In(loc),
		Location:      item.Location,
		Modality:      models.Modality(private[propModality]),
		Status:        models.Status(private[propStatus]),
		PatientID:     private[propPatientID],
		PatientName:   private[propPatientName],
		TherapistID:   private[propTherapistID],
		TherapistName: private[propTherapistName],
	}
	if !ev.Modality.Valid() {
		ev.Modality = models.ModalityInPerson
	}
	if !ev.Status.Valid() {
		ev.Status = models.StatusScheduled
	}
	if updated, err := time.Parse(time.RFC3339, item.Updated); err == nil {
		ev.Updated = updated
	}
	return ev, true
}

// TokenFile is the path of the stored token for an account.
func TokenFile(accountName string) string {
	return fmt.Sprintf("token-%s.json", accountName)
}

// GetOAuthConfigForAuthFlow is used by the auth command to get the config for the web flow.
func GetOAuthConfigForAuthFlow(clientID, clientSecret string) (*oauth2.Config, error) {
	return getOAuthConfig(clientID, clientSecret)
}

// getOAuthConfig reads credentials and returns an OAuth2 config.
// It prioritizes environment variables over a local credentials.json file.
func getOAuthConfig(clientID, clientSecret string) (*oauth2.Config, error) {
	if clientID != "" && clientSecret != "" {
		return &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  "urn:ietf:wg:oauth:2.0:oob",
			Scopes:       scopes,
			Endpoint:     google.Endpoint,
		}, nil
	}

	b, err := os.ReadFile(credentialsFile)
	if err != nil {
		if _, ok := err.(*fs.PathError); ok {
			return nil, fmt.Errorf("credentials.json not found. Please provide GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET env vars or place credentials.json in the root directory")
		}
		return nil, fmt.Errorf("unable to read client secret file: %w", err)
	}

	config, err := google.ConfigFromJSON(b, scopes...)
	if err != nil {
		return nil, fmt.Errorf("unable to parse client secret file to config: %w", err)
	}
	config.RedirectURL = "urn:ietf:wg:oauth:2.0:oob" // For desktop app flow
	return config, nil
}

// TokenFromWeb is called by the auth flow to retrieve a token.
func TokenFromWeb(ctx context.Context, config *oauth2.Config, authCode string) (*oauth2.Token, error) {
	return config.Exchange(ctx, authCode)
}

// SaveToken saves a token to a file path.
func SaveToken(path string, token *oauth2.Token) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("unable to create token file: %w", err)
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(token)
}

// tokenFromFile retrieves a token from a local file.
func tokenFromFile(file string) (*oauth2.Token, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	err = json.NewDecoder(f).Decode(tok)
	return tok, err
}

// ListCalendars returns the IDs of all calendars of the authenticated account.
func (c *CalendarClient) ListCalendars(ctx context.Context) ([]string, error) {
	list, err := c.service.CalendarList.List().Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list calendars: %w", err)
	}

	var calendarIDs []string
	for _, item := range list.Items {
		calendarIDs = append(calendarIDs, item.Id)
	}
	return calendarIDs, nil
}

// GetTokenAccounts lists the accounts that have a stored token in dir.
func GetTokenAccounts(dir string) ([]string, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var accounts []string
	for _, file := range files {
		if strings.HasPrefix(file.Name(), "token-") && strings.HasSuffix(file.Name(), ".json") {
			accountName := strings.TrimSuffix(strings.TrimPrefix(file.Name(), "token-"), ".json")
			accounts = append(accounts, accountName)
		}
	}
	return accounts, nil
}
