// Package shell drives one session's appointment store from text commands.
package shell

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"therapycal/internal/ics"
	"therapycal/internal/models"
	"therapycal/internal/store"
	"therapycal/internal/view"
)

const prompt = "> "

var errQuit = errors.New("quit")

// Shell reads commands and applies them to a store.
type Shell struct {
	store  *store.Store
	logger *slog.Logger
	viewer models.Viewer
	loc    *time.Location
	now    func() time.Time
}

func New(logger *slog.Logger, st *store.Store, viewer models.Viewer, loc *time.Location) *Shell {
	if loc == nil {
		loc = time.Local
	}
	return &Shell{
		store:  st,
		logger: logger,
		viewer: viewer,
		loc:    loc,
		now:    time.Now,
	}
}

// Run executes commands from in until EOF, "quit" or ctx is done. Command
// errors are reported on out and do not stop the loop.
func (sh *Shell) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	fmt.Fprint(out, prompt)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := sh.Exec(ctx, scanner.Text(), out)
		if errors.Is(err, errQuit) {
			return nil
		}
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
		fmt.Fprint(out, prompt)
	}
	return scanner.Err()
}

// Exec runs a single command line.
func (sh *Shell) Exec(ctx context.Context, line string, out io.Writer) error {
	args, err := split(line)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		return nil
	}
	cmd, args := strings.ToLower(args[0]), args[1:]

	switch cmd {
	case "help", "?":
		fmt.Fprint(out, usage)
		return nil
	case "quit", "exit":
		return errQuit
	case "new":
		return sh.create(ctx, args, out)
	case "update", "edit":
		return sh.update(ctx, args, out)
	case "delete", "rm":
		return sh.delete(ctx, args, out)
	case "show":
		return sh.show(args, out)
	case "list", "ls":
		return sh.list(args, out)
	case "day":
		return sh.day(args, out)
	case "range":
		return sh.rangeCmd(args, out)
	case "upcoming":
		return sh.upcoming(args, out)
	case "stats":
		return sh.stats(args, out)
	case "connect":
		if err := sh.store.Connect(ctx); err != nil {
			return err
		}
		fmt.Fprintln(out, "connected")
		return nil
	case "disconnect":
		if err := sh.store.Disconnect(ctx); err != nil {
			return err
		}
		fmt.Fprintln(out, "disconnected")
		return nil
	case "sync":
		if !sh.store.Connected() {
			return errors.New("not connected, run connect first")
		}
		if len(args) > 0 && args[0] == "dry-run" {
			return sh.preview(ctx, out)
		}
		if err := sh.store.Sync(ctx); err != nil {
			return err
		}
		fmt.Fprintln(out, "synced")
		return nil
	case "status":
		sh.status(out)
		return nil
	case "export":
		return sh.export(args, out)
	case "import":
		return sh.importCmd(ctx, args, out)
	}
	return fmt.Errorf("unknown command %q, try help", cmd)
}

const usage = `Commands:
  new key=value...           create an appointment
  update <id> key=value...   change an appointment
  delete <id>                remove an appointment
  show <id>                  print every field of an appointment
  list [status=S] [view=day|week|month] [date=YYYY-MM-DD]
  day <YYYY-MM-DD>           appointments on one day
  range <from> <to>          appointments between two days, inclusive
  upcoming [n]               next scheduled appointments
  stats [view=...] [date=...]
  connect | disconnect | sync | status
  sync dry-run               list what a sync would change, change nothing
  export <file.ics>          write all appointments as iCalendar
  import <file.ics>          add the events of an iCalendar file
  quit
Keys: date start end duration type status patient patientId therapist
therapistId location notes. Quote values with spaces: notes="first visit".
`

func (sh *Shell) create(ctx context.Context, args []string, out io.Writer) error {
	f, err := parseFields(args)
	if err != nil {
		return err
	}
	a, err := sh.store.Create(ctx, f)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "created %s\n", a.ID)
	return nil
}

func (sh *Shell) update(ctx context.Context, args []string, out io.Writer) error {
	if len(args) < 2 {
		return errors.New("usage: update <id> key=value...")
	}
	id, err := sh.resolve(args[0])
	if err != nil {
		return err
	}
	f, err := parseFields(args[1:])
	if err != nil {
		return err
	}
	a, err := sh.store.Update(ctx, id, f)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "updated %s\n", a.ID)
	return nil
}

func (sh *Shell) delete(ctx context.Context, args []string, out io.Writer) error {
	if len(args) != 1 {
		return errors.New("usage: delete <id>")
	}
	id, err := sh.resolve(args[0])
	if err != nil {
		return err
	}
	if err := sh.store.Delete(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(out, "deleted %s\n", id)
	return nil
}

func (sh *Shell) show(args []string, out io.Writer) error {
	if len(args) != 1 {
		return errors.New("usage: show <id>")
	}
	id, err := sh.resolve(args[0])
	if err != nil {
		return err
	}
	a, _ := sh.store.Get(id)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "id\t%s\n", a.ID)
	fmt.Fprintf(w, "patient\t%s\t%s\n", a.PatientName, a.PatientID)
	fmt.Fprintf(w, "therapist\t%s\t%s\n", a.TherapistName, a.TherapistID)
	fmt.Fprintf(w, "date\t%s\n", a.Date)
	fmt.Fprintf(w, "time\t%s-%s (%d min)\n", a.StartTime, a.EndTime, a.Duration)
	fmt.Fprintf(w, "type\t%s\n", a.Modality)
	fmt.Fprintf(w, "status\t%s\n", a.Status)
	if a.Location != "" {
		fmt.Fprintf(w, "location\t%s\n", a.Location)
	}
	if a.Notes != "" {
		fmt.Fprintf(w, "notes\t%s\n", a.Notes)
	}
	if a.ExternalID != "" {
		fmt.Fprintf(w, "external\t%s\n", a.ExternalID)
	}
	fmt.Fprintf(w, "updated\t%s\n", a.UpdatedAt.In(sh.loc).Format(time.RFC3339))
	return w.Flush()
}

// listOptions parses status=, view= and date=. Without view= nothing is
// filtered by date.
func (sh *Shell) listOptions(args []string) (view.StatusFilter, view.Mode, models.Date, error) {
	status := view.All
	var mode view.Mode
	selected := models.DateOf(sh.now().In(sh.loc))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok {
			return "", "", selected, fmt.Errorf("expected key=value, got %q", arg)
		}
		var err error
		switch strings.ToLower(key) {
		case "status":
			status, err = view.ParseStatusFilter(value)
		case "view":
			mode, err = view.ParseMode(value)
		case "date":
			selected, err = models.ParseDate(value)
		default:
			err = fmt.Errorf("unknown option %q", key)
		}
		if err != nil {
			return "", "", selected, err
		}
	}
	return status, mode, selected, nil
}

func (sh *Shell) list(args []string, out io.Writer) error {
	status, mode, selected, err := sh.listOptions(args)
	if err != nil {
		return err
	}
	list := sh.store.List()
	if mode != "" {
		list = view.Apply(list, status, mode, selected)
	} else {
		list = byStatus(list, status)
	}
	return sh.table(out, list)
}

func byStatus(list []models.Appointment, status view.StatusFilter) []models.Appointment {
	if status == view.All {
		return list
	}
	var out []models.Appointment
	for _, a := range list {
		if models.Status(status) == a.Status {
			out = append(out, a)
		}
	}
	return out
}

func (sh *Shell) day(args []string, out io.Writer) error {
	if len(args) != 1 {
		return errors.New("usage: day <YYYY-MM-DD>")
	}
	d, err := models.ParseDate(args[0])
	if err != nil {
		return err
	}
	return sh.table(out, sh.store.QueryByDate(d))
}

func (sh *Shell) rangeCmd(args []string, out io.Writer) error {
	if len(args) != 2 {
		return errors.New("usage: range <from> <to>")
	}
	from, err := models.ParseDate(args[0])
	if err != nil {
		return err
	}
	to, err := models.ParseDate(args[1])
	if err != nil {
		return err
	}
	return sh.table(out, sh.store.QueryByRange(from, to))
}

func (sh *Shell) upcoming(args []string, out io.Writer) error {
	n := 5
	if len(args) > 0 {
		var err error
		if n, err = strconv.Atoi(args[0]); err != nil {
			return fmt.Errorf("invalid count %q", args[0])
		}
	}
	return sh.table(out, view.Upcoming(sh.store.List(), sh.now(), n, sh.loc))
}

func (sh *Shell) stats(args []string, out io.Writer) error {
	status, mode, selected, err := sh.listOptions(args)
	if err != nil {
		return err
	}
	list := sh.store.List()
	if mode != "" {
		list = view.Apply(list, status, mode, selected)
	} else {
		list = byStatus(list, status)
	}
	c := view.Counts(list)
	fmt.Fprintf(out, "total %d, scheduled %d, completed %d, cancelled %d\n", c.Total, c.Scheduled, c.Completed, c.Cancelled)
	return nil
}

func (sh *Shell) status(out io.Writer) {
	connected := "no"
	if sh.store.Connected() {
		connected = "yes"
	}
	last := "never"
	if t, ok := sh.store.LastSync(); ok {
		last = t.In(sh.loc).Format("2006-01-02 15:04:05")
	}
	fmt.Fprintf(out, "connected: %s, last sync: %s, sync: %s\n", connected, last, sh.store.SyncStatus())
}

func (sh *Shell) export(args []string, out io.Writer) error {
	if len(args) != 1 {
		return errors.New("usage: export <file.ics>")
	}
	f, err := os.Create(args[0])
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", args[0], err)
	}
	list := sh.store.List()
	if err := ics.Write(f, list, sh.loc); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(out, "exported %d appointments to %s\n", len(list), args[0])
	return nil
}

func (sh *Shell) importCmd(ctx context.Context, args []string, out io.Writer) error {
	if len(args) != 1 {
		return errors.New("usage: import <file.ics>")
	}
	created, err := ImportFile(ctx, sh.store, sh.viewer, args[0], sh.loc)
	sh.logger.Info("Imported calendar file.", "file", args[0], "count", len(created))
	fmt.Fprintf(out, "imported %d appointments from %s\n", len(created), args[0])
	return err
}

// resolve accepts a full ID or a unique prefix of one.
func (sh *Shell) resolve(ref string) (string, error) {
	if _, ok := sh.store.Get(ref); ok {
		return ref, nil
	}
	var match string
	for _, a := range sh.store.List() {
		if !strings.HasPrefix(a.ID, ref) {
			continue
		}
		if match != "" {
			return "", fmt.Errorf("id prefix %q is ambiguous", ref)
		}
		match = a.ID
	}
	if match == "" {
		return "", fmt.Errorf("%s: %w", ref, store.ErrNotFound)
	}
	return match, nil
}

func (sh *Shell) preview(ctx context.Context, out io.Writer) error {
	steps, err := sh.store.Preview(ctx)
	if err != nil {
		return err
	}
	if len(steps) == 0 {
		fmt.Fprintln(out, "nothing to sync")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STEP\tID\tEXTERNAL ID")
	for _, step := range steps {
		id := step.Appointment.ID
		if id == "" {
			id = step.Event.AppointmentID
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", step.Kind, shortID(id), step.Event.ID)
	}
	return w.Flush()
}

func (sh *Shell) table(out io.Writer, list []models.Appointment) error {
	if len(list) == 0 {
		fmt.Fprintln(out, "no appointments")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDATE\tTIME\tWITH\tTYPE\tSTATUS\tSYNCED")
	for _, a := range list {
		synced := ""
		if a.ExternalID != "" {
			synced = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s-%s\t%s\t%s\t%s\t%s\n",
			shortID(a.ID), a.Date, a.StartTime, a.EndTime, view.Counterpart(sh.viewer, a), a.Modality, a.Status, synced)
	}
	return w.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
