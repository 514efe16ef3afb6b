package scraper

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"wb_scraper/config"
	"wb_scraper/models"
	"wb_scraper/progress"
)

const testDashboardURL = "https://webbuilder.example.com/webbuilder/dashboard/"

func loadFixture(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	if err != nil {
		t.Fatalf("failed to read fixture %s: %v", name, err)
	}
	return string(data)
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func testConfig() *config.Config {
	dash := config.DefaultDashboard()
	dash.URL = testDashboardURL
	return &config.Config{
		Dashboard: dash,
		Browser: config.BrowserConfig{
			Headless:        true,
			BatchSize:       3,
			PageLoadTimeout: 15 * time.Second,
			ElementTimeout:  5 * time.Second,
			SearchWait:      time.Second,
			TypeDelay:       50 * time.Millisecond,
			ManualLoginWait: 30 * time.Second,
		},
		Location: time.UTC,
	}
}

// fakeTab is a scripted page. Selectors listed in visible resolve
// immediately; everything else times out.
type fakeTab struct {
	mu sync.Mutex

	url      string
	landing  string
	afterSSO string
	gotoErr  error

	body     string
	visible  map[string]bool
	controls map[string][]Control
	// tables maps a searched identifier to the results table HTML.
	tables map[string]string
	// noResults lists identifiers whose search shows the empty state.
	noResults map[string]bool
	panicOn   string

	gotos    []string
	clicks   []string
	clicked  []Control
	searches []string
	pauses   []time.Duration
	closed   bool
}

func dashboardTab() *fakeTab {
	return &fakeTab{
		landing: testDashboardURL,
		visible: map[string]bool{
			`input[type="text"]`: true,
		},
	}
}

func (t *fakeTab) URL() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.url
}

func (t *fakeTab) Goto(url string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.gotos = append(t.gotos, url)
	if t.gotoErr != nil {
		return t.gotoErr
	}
	if t.landing != "" {
		t.url = t.landing
	} else {
		t.url = url
	}
	return nil
}

func (t *fakeTab) WaitForNetworkIdle() error { return nil }

func (t *fakeTab) Pause(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pauses = append(t.pauses, d)
}

func (t *fakeTab) BodyText() (string, error) {
	return t.body, nil
}

func (t *fakeTab) WaitFor(selector string, _ time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch selector {
	case config.DefaultDashboard().Selectors.NoResults:
		if t.lastSearch() != "" && t.noResults[t.lastSearch()] {
			return nil
		}
		return errors.New("timeout")
	case config.DefaultDashboard().Selectors.ResultsTable:
		if _, ok := t.tables[t.lastSearch()]; ok {
			return nil
		}
		return errors.New("timeout")
	}

	if t.visible[selector] {
		return nil
	}
	return errors.New("timeout")
}

func (t *fakeTab) Click(selector string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clicks = append(t.clicks, selector)
	if selector == config.DefaultDashboard().Selectors.SSOButton && t.afterSSO != "" {
		t.url = t.afterSSO
	}
	return nil
}

func (t *fakeTab) Controls(selector string) ([]Control, error) {
	return t.controls[selector], nil
}

func (t *fakeTab) ClickControl(c Control) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clicked = append(t.clicked, c)
	return nil
}

func (t *fakeTab) Search(_ string, text string, _ time.Duration) error {
	if text == t.panicOn {
		panic("page crashed")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.searches = append(t.searches, text)
	return nil
}

func (t *fakeTab) OuterHTML(string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	html, ok := t.tables[t.lastSearch()]
	if !ok {
		return "", errors.New("no table")
	}
	return html, nil
}

func (t *fakeTab) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *fakeTab) lastSearch() string {
	if len(t.searches) == 0 {
		return ""
	}
	return t.searches[len(t.searches)-1]
}

type fakeBrowser struct {
	mu     sync.Mutex
	newTab func(n int) *fakeTab
	// tabErrs fails the nth NewTab call.
	tabErrs  map[int]error
	requests int
	tabs     []*fakeTab
	closed   bool
}

func (b *fakeBrowser) NewTab() (Tab, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := b.requests
	b.requests++
	if err := b.tabErrs[n]; err != nil {
		return nil, err
	}
	tab := b.newTab(n)
	b.tabs = append(b.tabs, tab)
	return tab, nil
}

func (b *fakeBrowser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

type fakeLauncher struct {
	browser *fakeBrowser
	err     error
	opts    LaunchOptions
}

func (l *fakeLauncher) Launch(_ context.Context, opts LaunchOptions) (Browser, error) {
	l.opts = opts
	if l.err != nil {
		return nil, l.err
	}
	return l.browser, nil
}

type savedResult struct {
	Identifier string
	Records    []models.ScrapeRecord
	SessionID  int64
}

type finalized struct {
	SessionID  int64
	Successful int
	Failed     int
	Notes      string
}

type memoryStore struct {
	mu        sync.Mutex
	planned   int
	saved     []savedResult
	final     *finalized
	saveErr   map[string]error
	beginErr  error
	sessionID int64
}

func (s *memoryStore) BeginSession(_ context.Context, planned int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.beginErr != nil {
		return 0, s.beginErr
	}
	s.planned = planned
	s.saved = nil
	s.final = nil
	s.sessionID++
	return s.sessionID, nil
}

func (s *memoryStore) SaveResult(_ context.Context, identifier string, records []models.ScrapeRecord, sessionID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.saveErr[identifier]; err != nil {
		return err
	}
	s.saved = append(s.saved, savedResult{Identifier: identifier, Records: records, SessionID: sessionID})
	return nil
}

func (s *memoryStore) FinalizeSession(_ context.Context, sessionID int64, successful, failed int, notes string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.final = &finalized{SessionID: sessionID, Successful: successful, Failed: failed, Notes: notes}
	return nil
}

func newTestRunner(cfg *config.Config, store SessionStore, launcher Launcher) (*Runner, *progress.Reporter) {
	reporter := progress.New(time.UTC)
	r := NewRunner(cfg, store, launcher, reporter, testLogger())
	r.newRunID = func() string { return "run-test" }
	return r, reporter
}
