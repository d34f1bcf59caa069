// package formatter renders similarity results and track lists as CSV, Markdown, JSON or plain text
package formatter

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/desertthunder/soundalike/internal/models"
	"github.com/desertthunder/soundalike/internal/shared"
)

// Format names an output format.
type Format string

const (
	FormatText     Format = "text"
	FormatCSV      Format = "csv"
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
)

// ParseFormat accepts a format name or a common alias ("md", "txt").
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text", "txt":
		return FormatText, nil
	case "csv":
		return FormatCSV, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	case "json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: unknown format %q", shared.ErrInvalidArgument, s)
	}
}

// Seed identifies the track a report was computed for.
type Seed struct {
	ID         int64  `json:"id"`
	ExternalID string `json:"externalId"`
	Name       string `json:"name"`
	Artist     string `json:"artist"`
}

// Report is a seed track with its ranked neighbours.
type Report struct {
	Seed      Seed              `json:"seed"`
	Neighbors []models.Neighbor `json:"neighbors"`
}

// NewReport builds a [Report] for seed.
func NewReport(seed *models.Track, neighbors []models.Neighbor) *Report {
	if neighbors == nil {
		neighbors = []models.Neighbor{}
	}
	return &Report{
		Seed:      Seed{ID: seed.ID, ExternalID: seed.ExternalID, Name: seed.Name, Artist: seed.Artist},
		Neighbors: neighbors,
	}
}

func score(f float64) string {
	return strconv.FormatFloat(f, 'f', 4, 64)
}

// ToCSV writes columns: Rank, ID, External ID, Name, Artist, Distance, Similarity
func ToCSV(report *Report) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	headers := []string{"Rank", "ID", "External ID", "Name", "Artist", "Distance", "Similarity"}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for i, n := range report.Neighbors {
		record := []string{
			strconv.Itoa(i + 1),
			strconv.FormatInt(n.TrackID, 10),
			n.ExternalID,
			n.Name,
			n.Artist,
			score(n.Distance),
			score(n.Similarity()),
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// ToMarkdown renders a heading for the seed and a table of neighbours
func ToMarkdown(report *Report) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "# Sounds like %s\n\n", report.Seed.Name)
	fmt.Fprintf(&buf, "**Artist**: %s\n", report.Seed.Artist)
	fmt.Fprintf(&buf, "**Matches**: %d\n\n", len(report.Neighbors))

	if len(report.Neighbors) == 0 {
		buf.WriteString("_No similar tracks found._\n")
		return buf.Bytes(), nil
	}

	buf.WriteString("| # | Track | Artist | Similarity |\n")
	buf.WriteString("|---|-------|--------|------------|\n")
	for i, n := range report.Neighbors {
		fmt.Fprintf(&buf, "| %d | %s | %s | %s |\n", i+1, escapeCell(n.Name), escapeCell(n.Artist), score(n.Similarity()))
	}

	return buf.Bytes(), nil
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

// ToText renders one numbered line per neighbour
func ToText(report *Report) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "Seed: %s - %s\n", report.Seed.Artist, report.Seed.Name)
	fmt.Fprintf(&buf, "Matches: %d\n\n", len(report.Neighbors))

	for i, n := range report.Neighbors {
		fmt.Fprintf(&buf, "%d. %s - %s (%s)\n", i+1, n.Artist, n.Name, score(n.Similarity()))
	}

	return buf.Bytes(), nil
}

// ToJSON renders the report as indented JSON
func ToJSON(report *Report) ([]byte, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal report: %w", err)
	}
	return append(data, '\n'), nil
}

// Render produces report in the given format.
func Render(report *Report, format Format) ([]byte, error) {
	switch format {
	case FormatCSV:
		return ToCSV(report)
	case FormatMarkdown:
		return ToMarkdown(report)
	case FormatJSON:
		return ToJSON(report)
	case FormatText, "":
		return ToText(report)
	default:
		return nil, fmt.Errorf("%w: unknown format %q", shared.ErrInvalidArgument, format)
	}
}

// Write renders report to path, or to w when path is empty.
func Write(w io.Writer, report *Report, format Format, path string) error {
	data, err := Render(report, format)
	if err != nil {
		return err
	}

	if path == "" {
		if _, err := w.Write(data); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
		return nil
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write report file: %w", err)
	}
	return nil
}

// TrackRow is one line of a track listing.
type TrackRow struct {
	ID      int64
	Name    string
	Artist  string
	Encoded bool
}

// WriteTracks prints a fixed-width track listing.
func WriteTracks(w io.Writer, rows []TrackRow) error {
	if len(rows) == 0 {
		_, err := fmt.Fprintln(w, "No tracks.")
		return err
	}

	width := len("ID")
	for _, r := range rows {
		width = max(width, len(strconv.FormatInt(r.ID, 10)))
	}

	if _, err := fmt.Fprintf(w, "%*s  %-3s %s\n", width, "ID", "ENC", "TRACK"); err != nil {
		return err
	}
	for _, r := range rows {
		mark := "-"
		if r.Encoded {
			mark = "✓"
		}
		if _, err := fmt.Fprintf(w, "%*d  %-3s %s - %s\n", width, r.ID, mark, r.Artist, r.Name); err != nil {
			return err
		}
	}
	return nil
}
