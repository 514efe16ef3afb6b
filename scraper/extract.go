package scraper

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"wb_scraper/config"
	"wb_scraper/models"
)

var ErrAuthFailed = errors.New("authentication failed")

const noResultsWait = time.Second

// Extractor performs one dashboard search per identifier on a given tab.
type Extractor struct {
	dashboard config.DashboardConfig
	browser   config.BrowserConfig
	auth      *Authenticator
	consent   *ConsentResolver
	log       logrus.FieldLogger

	consentHandled atomic.Bool
}

func NewExtractor(dashboard config.DashboardConfig, browser config.BrowserConfig, auth *Authenticator, consent *ConsentResolver, log logrus.FieldLogger) *Extractor {
	return &Extractor{
		dashboard: dashboard,
		browser:   browser,
		auth:      auth,
		consent:   consent,
		log:       log,
	}
}

// Extract returns the records the dashboard shows for identifier. Only an
// authentication failure is returned as an error; every other problem yields
// an empty result and a logged warning.
func (e *Extractor) Extract(identifier string, tab Tab, needsAuth bool) ([]models.ScrapeRecord, error) {
	log := e.log.WithField("identifier", identifier)
	log.Info("Scraping subscription")

	if needsAuth {
		res := e.auth.EnsureDashboard(tab)
		if !res.Authenticated() {
			return nil, fmt.Errorf("%w: %s", ErrAuthFailed, res.Reason)
		}
	} else if !e.auth.Markers().mentionsDashboard(tab.URL()) {
		if err := tab.Goto(e.dashboard.URL); err != nil {
			log.WithError(err).Warn("Failed to open dashboard")
			return nil, nil
		}
		if err := tab.WaitForNetworkIdle(); err != nil {
			log.WithError(err).Debug("Network did not settle on dashboard")
		}
	}

	if !e.consentHandled.Load() && e.consent.Resolve(tab) {
		e.consentHandled.Store(true)
	}

	input := e.findSearchInput(tab)
	if input == "" {
		log.Error("Could not find search input field")
		return nil, nil
	}
	log.WithField("selector", input).Debug("Found search input")

	if err := tab.Search(input, identifier, e.browser.TypeDelay); err != nil {
		log.WithError(err).Warn("Search failed")
		return nil, nil
	}

	tab.Pause(e.browser.SearchWait)

	if tab.WaitFor(e.dashboard.Selectors.NoResults, noResultsWait) == nil {
		log.Warn("No results found for subscription")
		return nil, nil
	}

	if err := tab.WaitFor(e.dashboard.Selectors.ResultsTable, e.browser.ElementTimeout); err != nil {
		log.Warn("Results table not found")
		return nil, nil
	}

	html, err := tab.OuterHTML(e.dashboard.Selectors.ResultsTable)
	if err != nil {
		log.WithError(err).Warn("Failed to read results table")
		return nil, nil
	}

	records := ParseResultsTable(html, identifier)
	log.WithField("results", len(records)).Info("Extracted results")
	return records, nil
}

func (e *Extractor) findSearchInput(tab Tab) string {
	for _, sel := range e.dashboard.Selectors.SearchInputs {
		if tab.WaitFor(sel, e.browser.ElementTimeout) == nil {
			return sel
		}
	}
	return ""
}
