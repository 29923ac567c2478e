package feed

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	appLog "roomcheck/internal/log"
	"roomcheck/internal/model"
	"roomcheck/internal/roomid"
)

const (
	buildingSelect = "slct_arg_bldg_cd"
	// allBuildings is the "전체" option of the building select.
	allBuildings = "%"
)

var digitGroups = regexp.MustCompile(`\d+`)

// PageSource returns raw portal pages. It is implemented by PortalClient
// (plain HTTP postback) and capture.Browser (headless Chromium).
type PageSource interface {
	BuildingPage(ctx context.Context) ([]byte, error)
	ReservationPage(ctx context.Context, buildingCode string) ([]byte, error)
}

// ParseBuildings reads the building <select> of the reservation page.
func ParseBuildings(r io.Reader) ([]model.Building, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, &ParseError{Kind: "building", Index: -1, Err: err}
	}

	var out []model.Building
	doc.Find("#" + buildingSelect + " option").Each(func(i int, s *goquery.Selection) {
		code, _ := s.Attr("value")
		code = strings.TrimSpace(code)
		if code == "" || code == allBuildings {
			return
		}
		out = append(out, model.Building{
			Code: code,
			Name: roomid.CleanBuildingName(s.Text()),
		})
	})
	return out, nil
}

// ParseReservations reads the #dataGrid table of a building's reservation
// page. Rows that cannot be used are reported and skipped.
//
// Columns: 1 room, 2 applicant, 4 "start ~ end", 7 status.
func ParseReservations(r io.Reader, building string, now time.Time, loc *time.Location) ([]model.Occurrence, []error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, []error{&ParseError{Kind: "reservation", Index: -1, Err: err}}
	}
	if loc == nil {
		loc = now.Location()
	}

	var (
		out  []model.Occurrence
		errs []error
	)
	doc.Find("#dataGrid tr").Each(func(i int, row *goquery.Selection) {
		if i == 0 {
			return // header
		}
		cells := row.Find("td")
		if cells.Length() < 8 {
			return
		}
		cell := func(n int) string {
			return strings.TrimSpace(cells.Eq(n).Text())
		}

		timeText := cell(4)
		from, to, ok := strings.Cut(timeText, "~")
		if !ok {
			errs = append(errs, &ParseError{Kind: "reservation", Index: i - 1, Detail: fmt.Sprintf("time %q has no range", timeText)})
			return
		}
		start, err := ParseTimestamp(from, now, loc)
		if err != nil {
			errs = append(errs, &ParseError{Kind: "reservation", Index: i - 1, Err: err})
			return
		}
		end, err := ParseTimestamp(to, now, loc)
		if err != nil {
			errs = append(errs, &ParseError{Kind: "reservation", Index: i - 1, Err: err})
			return
		}
		if !end.After(start) {
			errs = append(errs, &ParseError{Kind: "reservation", Index: i - 1, Detail: fmt.Sprintf("time %q ends before it starts", timeText)})
			return
		}

		room := roomid.ParseRoomNumber(cell(1))
		if room == "" {
			room = cell(1)
		}
		out = append(out, model.Occurrence{
			Source:   model.ScrapedReservation,
			Building: building,
			Room:     room,
			Start:    start,
			End:      end,
			Label:    cell(2),
			Status:   cell(7),
		})
	})
	return out, errs
}

// ParseTimestamp reads a loosely delimited portal timestamp. Five or more
// numeric groups are year, month, day, hour, minute; exactly three are
// hour, minute, second on the day of now.
func ParseTimestamp(text string, now time.Time, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = now.Location()
	}
	groups := digitGroups.FindAllString(text, -1)
	nums := make([]int, len(groups))
	for i, g := range groups {
		n, err := strconv.Atoi(g)
		if err != nil {
			return time.Time{}, &ParseError{Kind: "timestamp", Index: -1, Detail: fmt.Sprintf("%q", text), Err: err}
		}
		nums[i] = n
	}

	var y, mo, d, h, mi, s int
	switch {
	case len(nums) >= 5:
		y, mo, d, h, mi = nums[0], nums[1], nums[2], nums[3], nums[4]
	case len(nums) == 3:
		today := now.In(loc)
		y, mo, d = today.Year(), int(today.Month()), today.Day()
		h, mi, s = nums[0], nums[1], nums[2]
	default:
		return time.Time{}, &ParseError{Kind: "timestamp", Index: -1, Detail: fmt.Sprintf("%q has %d numeric groups", text, len(nums))}
	}

	if mo < 1 || mo > 12 || d < 1 || d > 31 || h > 23 || mi > 59 || s > 59 {
		return time.Time{}, &ParseError{Kind: "timestamp", Index: -1, Detail: fmt.Sprintf("%q is out of range", text)}
	}
	t := time.Date(y, time.Month(mo), d, h, mi, s, 0, loc)
	if t.Day() != d {
		return time.Time{}, &ParseError{Kind: "timestamp", Index: -1, Detail: fmt.Sprintf("%q is not a calendar date", text)}
	}
	return t, nil
}

// PortalClient replays the portal's ASP.NET postback over plain HTTP.
type PortalClient struct {
	url    string
	client *http.Client
}

// NewPortalClient returns a client for the reservation page at pageURL.
// insecure disables certificate verification.
func NewPortalClient(pageURL string, timeout time.Duration, insecure bool) *PortalClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	jar, _ := cookiejar.New(nil)
	return &PortalClient{
		url: pageURL,
		client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
			Jar:       jar,
		},
	}
}

// BuildingPage fetches the reservation page as first served.
func (c *PortalClient) BuildingPage(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

// ReservationPage selects buildingCode through the page's postback and
// returns the resulting HTML.
func (c *PortalClient) ReservationPage(ctx context.Context, buildingCode string) ([]byte, error) {
	first, err := c.BuildingPage(ctx)
	if err != nil {
		return nil, err
	}
	form, err := FormState(bytes.NewReader(first))
	if err != nil {
		return nil, err
	}
	form.Set(buildingSelect, buildingCode)
	form.Set("__EVENTTARGET", buildingSelect)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	appLog.Debug("portal postback", "building", buildingCode, "url", redactURL(c.url))
	return c.do(req)
}

func (c *PortalClient) do(req *http.Request) ([]byte, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("portal %s: %w", req.Method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("portal %s: %s", req.Method, resp.Status)
	}
	return io.ReadAll(resp.Body)
}

// ErrNoViewState means the page carried no ASP.NET form state, usually
// because the portal served an error or login page.
var ErrNoViewState = errors.New("feed: page has no __VIEWSTATE")

// FormState lifts the hidden ASP.NET fields needed for a postback.
func FormState(r io.Reader) (url.Values, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, err
	}
	form := url.Values{}
	for _, id := range []string{"__VIEWSTATE", "__EVENTVALIDATION", "__VIEWSTATEGENERATOR"} {
		v, ok := doc.Find("input#" + id).Attr("value")
		if !ok {
			if id == "__VIEWSTATE" {
				return nil, ErrNoViewState
			}
			continue
		}
		form.Set(id, v)
	}
	return form, nil
}
