package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/jszwec/csvutil"
	"github.com/sirupsen/logrus"

	"wb_scraper/models"
)

type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

func (f Format) ContentType() string {
	if f == FormatCSV {
		return "text/csv"
	}
	return "application/json"
}

// Source is the read side of the store an export is built from.
type Source interface {
	Stats(ctx context.Context) (*models.Stats, error)
	Subscriptions(ctx context.Context) ([]models.SubscriptionView, error)
}

type Uploader interface {
	Upload(ctx context.Context, key string, data io.Reader, contentType string) error
	ObjectURL(key string) string
}

// Document is the JSON export layout.
type Document struct {
	ExportTimestamp string                    `json:"export_timestamp"`
	Stats           *models.Stats             `json:"stats"`
	Subscriptions   []models.SubscriptionView `json:"subscriptions"`
}

// Row is one CSV line: a stored record flattened with its search term.
type Row struct {
	SearchTerm       string `csv:"Search Term"`
	ResultID         string `csv:"Site ID"`
	Sitename         string `csv:"Sitename"`
	LiteID           string `csv:"Edison Lite ID"`
	State            string `csv:"State"`
	AssignedTeam     string `csv:"Assigned Team"`
	ComponentVersion string `csv:"Version"`
	IsLive           string `csv:"Live?"`
	UpdatedAt        string `csv:"Updated At"`
	ScrapedAt        string `csv:"Scraped At"`
}

type Exporter struct {
	source   Source
	dir      string
	loc      *time.Location
	uploader Uploader
	keyFor   func(filename string) string
	log      logrus.FieldLogger
	now      func() time.Time
}

func NewExporter(source Source, dir string, loc *time.Location, log logrus.FieldLogger) *Exporter {
	if loc == nil {
		loc = time.UTC
	}
	return &Exporter{
		source: source,
		dir:    dir,
		loc:    loc,
		keyFor: filepath.Base,
		log:    log,
		now:    time.Now,
	}
}

// WithUploader copies every saved export to remote storage under keyFor(filename).
func (e *Exporter) WithUploader(u Uploader, keyFor func(string) string) *Exporter {
	e.uploader = u
	if keyFor != nil {
		e.keyFor = keyFor
	}
	return e
}

// Filename stamps an export name in the configured zone.
func (e *Exporter) Filename(f Format) string {
	return fmt.Sprintf("scraper_data_export_%s.%s", e.now().In(e.loc).Format("20060102_150405"), f)
}

func (e *Exporter) Build(ctx context.Context) (*Document, error) {
	stats, err := e.source.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("load stats: %w", err)
	}
	subs, err := e.source.Subscriptions(ctx)
	if err != nil {
		return nil, fmt.Errorf("load subscriptions: %w", err)
	}
	return &Document{
		ExportTimestamp: e.now().In(e.loc).Format(time.RFC3339),
		Stats:           stats,
		Subscriptions:   subs,
	}, nil
}

// Write renders the current store contents in the given format.
func (e *Exporter) Write(ctx context.Context, w io.Writer, f Format) error {
	switch f {
	case FormatJSON:
		doc, err := e.Build(ctx)
		if err != nil {
			return err
		}
		return WriteJSON(w, doc)
	case FormatCSV:
		subs, err := e.source.Subscriptions(ctx)
		if err != nil {
			return fmt.Errorf("load subscriptions: %w", err)
		}
		return WriteCSV(w, subs)
	default:
		return fmt.Errorf("unknown export format %q", f)
	}
}

// Save writes an export file into the export directory and uploads it when
// an uploader is set. It returns the local path.
func (e *Exporter) Save(ctx context.Context, f Format) (string, error) {
	var buf bytes.Buffer
	if err := e.Write(ctx, &buf, f); err != nil {
		return "", err
	}

	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}
	name := e.Filename(f)
	path := filepath.Join(e.dir, name)
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("write export: %w", err)
	}
	e.log.WithField("path", path).Info("Export written")

	if e.uploader != nil {
		key := e.keyFor(name)
		if err := e.uploader.Upload(ctx, key, bytes.NewReader(buf.Bytes()), f.ContentType()); err != nil {
			return path, fmt.Errorf("upload export: %w", err)
		}
		e.log.WithFields(logrus.Fields{"key": key, "url": e.uploader.ObjectURL(key)}).Info("Export uploaded")
	}

	return path, nil
}

func WriteJSON(w io.Writer, doc *Document) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(doc)
}

func Rows(subs []models.SubscriptionView) []Row {
	var rows []Row
	for _, sub := range subs {
		for _, r := range sub.Results {
			rows = append(rows, Row{
				SearchTerm:       sub.SearchTerm,
				ResultID:         r.ResultID,
				Sitename:         r.Sitename,
				LiteID:           r.LiteID,
				State:            r.State,
				AssignedTeam:     r.AssignedTeam,
				ComponentVersion: r.ComponentVersion,
				IsLive:           r.IsLive,
				UpdatedAt:        r.UpdatedAt,
				ScrapedAt:        r.ScrapedTimestamp,
			})
		}
	}
	return rows
}

// WriteCSV always writes the header, even when there are no rows.
func WriteCSV(w io.Writer, subs []models.SubscriptionView) error {
	cw := csv.NewWriter(w)
	enc := csvutil.NewEncoder(cw)

	if err := enc.EncodeHeader(Row{}); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, row := range Rows(subs) {
		if err := enc.Encode(row); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}
