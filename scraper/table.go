package scraper

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"wb_scraper/models"
)

const minRowCells = 6

// ParseResultsTable extracts the records for identifier from the outer HTML
// of a results table. The first row is the header. Rows with fewer than six
// cells are skipped, and so is any row whose text does not mention the
// identifier.
func ParseResultsTable(html, identifier string) []models.ScrapeRecord {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}

	needle := strings.ToLower(identifier)
	var records []models.ScrapeRecord

	doc.Find("tr").Each(func(i int, row *goquery.Selection) {
		if i == 0 {
			return
		}

		cells := row.Find("td")
		if cells.Length() < minRowCells {
			return
		}

		texts := make([]string, 0, cells.Length())
		cells.Each(func(_ int, cell *goquery.Selection) {
			texts = append(texts, cellText(cell))
		})

		if !strings.Contains(strings.ToLower(strings.Join(texts, " ")), needle) {
			return
		}

		records = append(records, models.ScrapeRecord{
			ResultID:         cellAt(texts, 1),
			Sitename:         cellAt(texts, 2),
			LiteID:           cellAt(texts, 3),
			State:            cellAt(texts, 4),
			AssignedTeam:     cellAt(texts, 5),
			ComponentVersion: cellAt(texts, 6),
			IsLive:           cellAt(texts, 7),
			UpdatedAt:        cellAt(texts, 8),
		})
	})

	return records
}

// blockElements render on their own line, so their text never runs into a
// neighbour's.
var blockElements = map[string]bool{
	"div": true, "p": true, "li": true, "ul": true, "ol": true, "table": true,
	"tr": true, "td": true, "th": true, "h1": true, "h2": true, "h3": true,
	"h4": true, "h5": true, "h6": true, "section": true, "article": true,
	"header": true, "footer": true, "blockquote": true, "pre": true,
}

// cellText reads a cell the way a browser shows it: line breaks and block
// children separate words, then whitespace is collapsed.
func cellText(cell *goquery.Selection) string {
	var b strings.Builder
	var walk func(*goquery.Selection)
	walk = func(sel *goquery.Selection) {
		sel.Contents().Each(func(_ int, child *goquery.Selection) {
			switch name := goquery.NodeName(child); {
			case name == "#text":
				b.WriteString(child.Text())
			case name == "br":
				b.WriteByte(' ')
			case blockElements[name]:
				b.WriteByte(' ')
				walk(child)
				b.WriteByte(' ')
			default:
				walk(child)
			}
		})
	}
	walk(cell)
	return normalizeSpace(b.String())
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func cellAt(texts []string, i int) string {
	if i < len(texts) {
		return texts[i]
	}
	return ""
}
