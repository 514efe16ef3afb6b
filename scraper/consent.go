package scraper

import (
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"wb_scraper/config"
)

const (
	consentControlSelector = "button, a, input[type='button'], input[type='submit'], [role='button'], .button, .btn"
	consentBannerSelector  = "[id*='cookie'], [class*='cookie'], [id*='consent'], [class*='consent'], " +
		"[id*='gdpr'], [class*='gdpr'], [id*='privacy'], [class*='privacy']"

	consentAppearWait  = time.Second
	consentClickSettle = time.Second
)

// ConsentPlan is the outcome of classifying a page: whether a consent overlay
// is present and which controls to try, best first.
type ConsentPlan struct {
	Present   bool
	Indicator string
	Actions   []Control
}

type ConsentResolver struct {
	phrases config.ConsentPhrases
	log     logrus.FieldLogger
}

func NewConsentResolver(phrases config.ConsentPhrases, log logrus.FieldLogger) *ConsentResolver {
	return &ConsentResolver{phrases: phrases, log: log}
}

// Classify decides from page text and the enumerated controls what to click.
// Exact accept-all labels win; otherwise any label containing an accept phrase
// qualifies unless it also contains an avoid phrase. Hidden or disabled
// controls are never ranked.
func (r *ConsentResolver) Classify(pageText string, controls []Control) ConsentPlan {
	indicator, ok := findPhrase(pageText, r.phrases.Indicators)
	if !ok {
		return ConsentPlan{}
	}

	plan := ConsentPlan{Present: true, Indicator: indicator}

	clickable := make([]Control, 0, len(controls))
	for _, c := range controls {
		if c.Visible && c.Enabled && strings.TrimSpace(c.Text) != "" {
			clickable = append(clickable, c)
		}
	}

	for _, phrase := range r.phrases.AcceptAll {
		for _, c := range clickable {
			if strings.EqualFold(strings.TrimSpace(c.Text), phrase) {
				plan.Actions = append(plan.Actions, c)
			}
		}
	}
	if len(plan.Actions) > 0 {
		return plan
	}

	for _, c := range clickable {
		if _, avoid := findPhrase(c.Text, r.phrases.Avoid); avoid {
			continue
		}
		if _, accept := findPhrase(c.Text, r.phrases.Accept); accept {
			plan.Actions = append(plan.Actions, c)
		}
	}
	return plan
}

// DetectBanner reports whether any visible element with text looks like a
// cookie or privacy banner.
func DetectBanner(elements []Control) bool {
	for _, el := range elements {
		if el.Visible && strings.TrimSpace(el.Text) != "" {
			return true
		}
	}
	return false
}

// Resolve looks for a consent overlay on tab and clicks the best accept
// control. It never fails; it reports whether an overlay was detected.
func (r *ConsentResolver) Resolve(tab Tab) bool {
	tab.Pause(consentAppearWait)

	text, err := tab.BodyText()
	if err != nil {
		r.log.WithError(err).Debug("Could not read page text for consent check")
	}

	var controls []Control
	if _, ok := findPhrase(text, r.phrases.Indicators); ok {
		controls, err = tab.Controls(consentControlSelector)
		if err != nil {
			r.log.WithError(err).Debug("Could not enumerate consent controls")
		}
	}

	plan := r.Classify(text, controls)
	if !plan.Present {
		banners, err := tab.Controls(consentBannerSelector)
		if err != nil {
			r.log.WithError(err).Debug("Could not check for consent banner")
			return false
		}
		found := DetectBanner(banners)
		if found {
			r.log.Debug("Found cookie banner element")
		}
		return found
	}

	r.log.WithField("indicator", plan.Indicator).Debug("Found cookie consent indicator")

	for _, c := range plan.Actions {
		if err := tab.ClickControl(c); err != nil {
			r.log.WithError(err).WithField("control", c.Text).Debug("Failed to click consent control")
			continue
		}
		tab.Pause(consentClickSettle)
		r.log.WithField("control", c.Text).Info("Accepted cookie consent")
		return true
	}

	r.log.Debug("Cookie consent detected but no accept control found")
	return true
}

func findPhrase(text string, phrases []string) (string, bool) {
	lower := strings.ToLower(text)
	for _, p := range phrases {
		if p != "" && strings.Contains(lower, strings.ToLower(p)) {
			return p, true
		}
	}
	return "", false
}
