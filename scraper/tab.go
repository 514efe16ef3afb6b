package scraper

import (
	"context"
	"time"
)

// Control is one clickable element observed on a page. Selector and Index
// locate it again for a click; the remaining fields are what the page reported
// when it was enumerated.
type Control struct {
	Selector string
	Index    int
	Text     string
	Visible  bool
	Enabled  bool
}

// Tab is the slice of a browser page the scraper drives. Every wait takes an
// explicit timeout; a timeout is reported as an error.
type Tab interface {
	URL() string
	Goto(url string) error
	WaitForNetworkIdle() error
	Pause(d time.Duration)
	BodyText() (string, error)
	WaitFor(selector string, timeout time.Duration) error
	Click(selector string) error
	Controls(selector string) ([]Control, error)
	ClickControl(c Control) error
	Search(selector, text string, keyDelay time.Duration) error
	OuterHTML(selector string) (string, error)
	Close() error
}

// Browser is one launched browser with a single shared context, so cookies
// set by the authenticating tab are seen by every later tab.
type Browser interface {
	NewTab() (Tab, error)
	Close() error
}

type LaunchOptions struct {
	Headless bool
	// BlockResources aborts image, stylesheet, font and media requests.
	BlockResources  bool
	PageLoadTimeout time.Duration
	ElementTimeout  time.Duration
	UserAgent       string
}

type Launcher interface {
	Launch(ctx context.Context, opts LaunchOptions) (Browser, error)
}
