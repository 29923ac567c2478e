package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/robfig/cron/v3"

	"roomcheck/internal/app"
	"roomcheck/internal/capture"
	"roomcheck/internal/config"
	"roomcheck/internal/convert"
	"roomcheck/internal/feed"
	"roomcheck/internal/ics"
	appLog "roomcheck/internal/log"
	"roomcheck/internal/model"
	"roomcheck/internal/roomid"
	"roomcheck/internal/schedule"
	"roomcheck/internal/timecode"
	"roomcheck/internal/web"
)

// runContext is passed to every command's Run method.
type runContext struct {
	ctx context.Context
	cfg *config.Config
}

// newSession wires a Session from the config. lecturesFile, when set,
// replaces the remote lecture feed.
func (rc *runContext) newSession(lecturesFile string) (*app.Session, *time.Location, error) {
	loc, err := rc.cfg.Location()
	if err != nil {
		return nil, nil, err
	}
	pcfg, err := rc.cfg.ParserConfig()
	if err != nil {
		return nil, nil, err
	}

	timeout := time.Duration(rc.cfg.Portal.TimeoutSeconds) * time.Second
	var pages feed.PageSource
	if rc.cfg.Portal.UseBrowser {
		pages = capture.NewBrowser(capture.Options{
			URL:                rc.cfg.Portal.URL,
			Timeout:            timeout,
			InsecureSkipVerify: rc.cfg.Portal.InsecureSkipVerify,
		})
	} else {
		pages = feed.NewPortalClient(rc.cfg.Portal.URL, timeout, rc.cfg.Portal.InsecureSkipVerify)
	}

	opts := app.Options{
		Pages:    pages,
		Identity: roomid.NewIdentity(rc.cfg.BuildingAliases),
		Parser:   timecode.New(pcfg),
		Location: loc,
	}
	if lecturesFile == "" {
		opts.Lectures = feed.NewLectureFetcher(rc.cfg.LectureFeed.CachePath, timeout)
		opts.LectureURL = rc.cfg.LectureFeed.URL
	}
	session := app.New(opts)

	if lecturesFile != "" {
		records, err := readLectureFile(lecturesFile)
		if err != nil {
			return nil, nil, err
		}
		session.SetLectures(records)
	}
	if rc.cfg.ManualICS != "" {
		body, err := os.ReadFile(rc.cfg.ManualICS)
		if err != nil {
			return nil, nil, fmt.Errorf("read manual ics: %w", err)
		}
		n, err := session.ImportManualICS(body)
		if err != nil {
			return nil, nil, err
		}
		appLog.Info("manual bookings imported", "path", rc.cfg.ManualICS, "count", n)
	}
	return session, loc, nil
}

func readLectureFile(path string) ([]model.LectureRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	records, err := feed.DecodeLectures(f)
	if err != nil {
		if len(records) == 0 {
			return nil, err
		}
		appLog.Warn("lecture file has malformed records", "path", path, "error", err.Error())
	}
	return records, nil
}

type ServeCmd struct {
	Listen string `help:"HTTP listen address (overrides config if set)."`
}

func (c *ServeCmd) Run(rc *runContext) error {
	if c.Listen != "" {
		rc.cfg.Listen = c.Listen
	}
	session, loc, err := rc.newSession("")
	if err != nil {
		return err
	}

	appLog.Info("effective config",
		"listen", rc.cfg.Listen,
		"timezone", rc.cfg.Timezone,
		"refresh", rc.cfg.RefreshCron,
		"days_window", rc.cfg.DaysWindow,
		"portal_browser", rc.cfg.Portal.UseBrowser,
	)

	// 첫 갱신이 실패해도 서버는 띄운다. /api/refresh 로 재시도할 수 있다.
	if _, err := session.Refresh(rc.ctx); err != nil {
		appLog.Error("initial refresh failed", err)
	}

	sched := cron.New()
	if _, err := sched.AddFunc(rc.cfg.RefreshCron, func() {
		if _, err := session.Refresh(rc.ctx); err != nil {
			appLog.Error("scheduled refresh failed", err)
		}
	}); err != nil {
		return fmt.Errorf("invalid refresh schedule %q: %w", rc.cfg.RefreshCron, err)
	}
	sched.Start()
	defer func() { <-sched.Stop().Done() }()

	return web.StartServer(rc.ctx, rc.cfg, session, loc)
}

type CheckCmd struct {
	Building string `arg:"" help:"Building code, name or abbreviation."`
	Room     string `arg:"" help:"Room number, e.g. 301."`
	Date     string `arg:"" help:"Date as YYYY-MM-DD."`
	Start    string `arg:"" help:"Start time as HH:MM."`
	End      string `arg:"" help:"End time as HH:MM."`
	Lectures string `help:"Read lectures from a local XML file instead of the feed." type:"existingfile"`
}

func (c *CheckCmd) Run(rc *runContext) error {
	session, loc, err := rc.newSession(c.Lectures)
	if err != nil {
		return err
	}
	start, err := time.ParseInLocation("2006-01-02 15:04", c.Date+" "+c.Start, loc)
	if err != nil {
		return fmt.Errorf("start: %w", err)
	}
	end, err := time.ParseInLocation("2006-01-02 15:04", c.Date+" "+c.End, loc)
	if err != nil {
		return fmt.Errorf("end: %w", err)
	}

	if _, err := session.Refresh(rc.ctx); err != nil {
		return err
	}
	res, err := session.Check(rc.ctx, app.CheckRequest{Building: c.Building, Room: c.Room, Start: start, End: end})
	if err != nil {
		return err
	}

	fmt.Println(res.Message)
	if res.Conflict != nil {
		o := res.Conflict
		fmt.Printf("  %s %s %s %s-%s %s\n", o.Source, o.Building, o.Room,
			o.Start.Format("2006-01-02 15:04"), o.End.Format("15:04"), o.Label)
	}
	if res.ReservationsStale {
		fmt.Println("  (portal unreachable; reservations may be out of date)")
	}
	return nil
}

type ExpandCmd struct {
	Date     string `help:"Reference date as YYYY-MM-DD (default today)."`
	Lectures string `help:"Read lectures from a local XML file instead of the feed." type:"existingfile"`
}

func (c *ExpandCmd) Run(rc *runContext) error {
	session, loc, err := rc.newSession(c.Lectures)
	if err != nil {
		return err
	}
	if c.Lectures == "" {
		if _, err := session.Refresh(rc.ctx); err != nil {
			return err
		}
	}

	var ref *time.Time
	if c.Date != "" {
		d, err := time.ParseInLocation("2006-01-02", c.Date, loc)
		if err != nil {
			return fmt.Errorf("date: %w", err)
		}
		ref = &d
	}
	printExpansion(os.Stdout, session.Lectures(ref))
	return nil
}

func printExpansion(w io.Writer, res schedule.ExpandResult) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, o := range res.Occurrences {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", o.Start.Format("01-02 Mon 15:04"), o.End.Format("15:04"), o.Building, o.Room, o.Label)
	}
	_ = tw.Flush()
	for _, sk := range res.Skipped {
		fmt.Fprintf(w, "skipped: %s (%s)\n", sk.Name, sk.Reason)
	}
	for _, wn := range res.Warnings {
		fmt.Fprintf(w, "warning: %s\n", wn.Error())
	}
	if n := len(res.TokenErrors); n > 0 {
		fmt.Fprintf(w, "%d invalid time code token(s) dropped\n", n)
	}
}

type ConvertCmd struct {
	Input  string `arg:"" help:"Timetable workbook (.xlsx)." type:"existingfile"`
	Output string `arg:"" help:"Lecture XML output path."`
	Sheet  string `help:"Sheet name (default first sheet)."`
}

func (c *ConvertCmd) Run(rc *runContext) error {
	in, err := os.Open(c.Input)
	if err != nil {
		return err
	}
	defer in.Close()

	records, err := convert.ReadWorkbook(in, c.Sheet)
	if err != nil {
		return err
	}

	out, err := os.Create(c.Output)
	if err != nil {
		return err
	}
	if err := convert.WriteLectureXML(out, records); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	appLog.Info("lecture feed written", "path", c.Output, "records", len(records))
	return nil
}

type ExportCmd struct {
	Output   string `arg:"" help:"Output path; .xlsx writes a board spreadsheet, anything else iCalendar."`
	Date     string `help:"Reference date for lectures as YYYY-MM-DD (default today)."`
	Building string `help:"Include (or, for .xlsx, export the board of) this building's portal reservations."`
	Lectures string `help:"Read lectures from a local XML file instead of the feed." type:"existingfile"`
}

func (c *ExportCmd) Run(rc *runContext) error {
	session, loc, err := rc.newSession(c.Lectures)
	if err != nil {
		return err
	}
	if _, err := session.Refresh(rc.ctx); err != nil {
		return err
	}

	out, err := os.Create(c.Output)
	if err != nil {
		return err
	}
	defer out.Close()

	if isXLSX(c.Output) {
		if c.Building == "" {
			return fmt.Errorf("--building is required for a board spreadsheet")
		}
		board, err := session.Board(rc.ctx, c.Building)
		if err != nil {
			return err
		}
		return convert.WriteBoardWorkbook(out, board)
	}

	if c.Building != "" {
		if _, err := session.LoadReservations(rc.ctx, c.Building); err != nil {
			return err
		}
	}
	var ref *time.Time
	if c.Date != "" {
		d, err := time.ParseInLocation("2006-01-02", c.Date, loc)
		if err != nil {
			return fmt.Errorf("date: %w", err)
		}
		ref = &d
	}
	_, err = out.Write(ics.Export(session.Occurrences(ref), loc, time.Now()))
	return err
}

func isXLSX(path string) bool {
	return len(path) > 5 && path[len(path)-5:] == ".xlsx"
}
