package shell

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"therapycal/internal/ics"
	"therapycal/internal/models"
	"therapycal/internal/store"
)

// parseFields turns key=value arguments into a partial appointment.
func parseFields(args []string) (models.Fields, error) {
	var f models.Fields
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok {
			return f, fmt.Errorf("expected key=value, got %q", arg)
		}
		switch strings.ToLower(key) {
		case "date":
			d, err := models.ParseDate(value)
			if err != nil {
				return f, err
			}
			f.Date = &d
		case "start":
			c, err := models.ParseClock(value)
			if err != nil {
				return f, err
			}
			f.StartTime = &c
		case "end":
			c, err := models.ParseClock(value)
			if err != nil {
				return f, err
			}
			f.EndTime = &c
		case "duration":
			n, err := strconv.Atoi(value)
			if err != nil {
				return f, fmt.Errorf("invalid duration %q", value)
			}
			f.Duration = &n
		case "type", "modality":
			m := models.Modality(value)
			f.Modality = &m
		case "status":
			s := models.Status(value)
			f.Status = &s
		case "patient":
			f.PatientName = &value
		case "patientid":
			f.PatientID = &value
		case "therapist":
			f.TherapistName = &value
		case "therapistid":
			f.TherapistID = &value
		case "location":
			f.Location = &value
		case "notes":
			f.Notes = &value
		default:
			return f, fmt.Errorf("unknown field %q", key)
		}
	}
	return f, nil
}

// split breaks a command line into words. Double or single quotes group
// words and a backslash escapes the next character.
func split(line string) ([]string, error) {
	var (
		words   []string
		cur     strings.Builder
		inWord  bool
		quote   rune
		escaped bool
	)
	for _, r := range line {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped, inWord = true, true
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '"' || r == '\'':
			quote, inWord = r, true
		case r == ' ' || r == '\t':
			if inWord {
				words = append(words, cur.String())
				cur.Reset()
				inWord = false
			}
		default:
			cur.WriteRune(r)
			inWord = true
		}
	}
	if quote != 0 {
		return nil, errors.New("unterminated quote")
	}
	if escaped {
		return nil, errors.New("trailing backslash")
	}
	if inWord {
		words = append(words, cur.String())
	}
	return words, nil
}

// ImportFile adds every event of an iCalendar file to st. Events that fail
// validation are skipped and reported in the returned error.
func ImportFile(ctx context.Context, st *store.Store, viewer models.Viewer, path string, loc *time.Location) ([]models.Appointment, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	events, err := ics.Read(f, loc)
	if err != nil {
		return nil, err
	}
	fields := make([]models.Fields, 0, len(events))
	for _, ev := range events {
		fields = append(fields, importFields(ev, viewer, loc))
	}
	return st.Import(ctx, fields)
}

// importFields keeps the viewer's own side when the event leaves it blank
// and names the counterpart after the event title when nothing else does.
func importFields(ev models.Event, viewer models.Viewer, loc *time.Location) models.Fields {
	f := ev.Fields(loc)
	for _, p := range []**string{&f.PatientID, &f.PatientName, &f.TherapistID, &f.TherapistName} {
		if *p != nil && **p == "" {
			*p = nil
		}
	}
	title := ev.Title
	switch {
	case viewer.Role == models.RolePatient && f.TherapistName == nil:
		f.TherapistName = &title
	case viewer.Role != models.RolePatient && f.PatientName == nil:
		f.PatientName = &title
	}
	return f
}
