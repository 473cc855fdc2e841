// Package render turns finalized records into PDF documents.
package render

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/BTreeMap/CivicPipe/internal/attachment"
	"github.com/BTreeMap/CivicPipe/internal/models"
	"github.com/BTreeMap/CivicPipe/internal/storage"
)

// Page geometry in PDF points for A4 portrait with an upper-left origin.
const (
	pageHeight   = 842.0
	marginLeft   = 50.0
	marginTop    = 60.0
	marginBottom = 60.0
	lineHeight   = 16.0
	wrapColumns  = 88
)

const footerText = "Generated by CivicPipe. Review all details before submission."

// PDFRenderer lays records out as pdfcpu page descriptions and stores the
// resulting PDF.
type PDFRenderer struct {
	storage storage.Storage
}

// NewPDFRenderer creates a renderer writing documents through st.
func NewPDFRenderer(st storage.Storage) *PDFRenderer {
	return &PDFRenderer{storage: st}
}

// DocumentPath returns the storage path of a record's document:
// documents/<flow>/<flow>_<user>_<timestamp>.pdf
func DocumentPath(rec models.Record) string {
	name := fmt.Sprintf("%s_%s_%s.pdf", rec.Kind, attachment.SafeSegment(rec.UserID), rec.CreatedAt.Format(attachment.TimestampLayout))
	return path.Join("documents", string(rec.Kind), name)
}

// Render builds the PDF for rec, stores it, and returns its path.
func (r *PDFRenderer) Render(ctx context.Context, rec models.Record) (string, error) {
	desc, err := json.Marshal(Layout(rec))
	if err != nil {
		return "", fmt.Errorf("failed to encode page description: %w", err)
	}

	var buf bytes.Buffer
	if err := api.Create(nil, bytes.NewReader(desc), &buf, model.NewDefaultConfiguration()); err != nil {
		slog.Error("PDFRenderer Render failed", "error", err, "kind", rec.Kind, "user", rec.UserID)
		return "", fmt.Errorf("failed to create pdf: %w", err)
	}

	pages, err := api.PageCount(bytes.NewReader(buf.Bytes()), nil)
	if err != nil {
		slog.Warn("PDFRenderer failed to count pages", "error", err)
	}

	p := DocumentPath(rec)
	if err := r.storage.Write(ctx, p, buf.Bytes(), "application/pdf"); err != nil {
		slog.Error("PDFRenderer store failed", "error", err, "path", p)
		return "", fmt.Errorf("failed to store pdf: %w", err)
	}
	slog.Info("PDFRenderer Render succeeded", "kind", rec.Kind, "user", rec.UserID, "path", p, "pages", pages, "bytes", buf.Len())
	return p, nil
}

// PageDescription mirrors the subset of the pdfcpu JSON create format used here.
type PageDescription struct {
	Paper  string              `json:"paper"`
	Origin string              `json:"origin"`
	Fonts  map[string]FontSpec `json:"fonts"`
	Pages  map[string]Page     `json:"pages"`
}

type FontSpec struct {
	Name string `json:"name"`
	Size int    `json:"size"`
}

type Page struct {
	Content Content `json:"content"`
}

type Content struct {
	Text []Text `json:"text"`
}

type Text struct {
	Value string     `json:"value"`
	Pos   [2]float64 `json:"pos"`
	Font  FontRef    `json:"font"`
}

type FontRef struct {
	Name string `json:"name"`
}

// Font references declared in every page description.
const (
	fontTitle   = "title"
	fontHeading = "heading"
	fontBody    = "body"
	fontSmall   = "small"
)

type line struct {
	text string
	font string
}

// Layout builds the page description for rec: title, reference, one wrapped
// block per field, legal basis, attachment reference and footer. Lines that
// do not fit on a page continue on the next one.
func Layout(rec models.Record) PageDescription {
	var lines []line
	add := func(font string, text string) {
		for _, l := range wrap(text, wrapColumns) {
			lines = append(lines, line{text: l, font: font})
		}
	}

	add(fontTitle, models.RecordTitle(rec.Kind))
	add(fontSmall, fmt.Sprintf("Reference: %s    Date: %s", rec.Reference, rec.CreatedAt.Format("02 Jan 2006 15:04")))
	lines = append(lines, line{})

	for _, f := range rec.Fields {
		if f.Value == "" {
			continue
		}
		add(fontHeading, f.Key.Label()+":")
		add(fontBody, f.Value)
	}

	if rec.LegalBasis != "" {
		lines = append(lines, line{})
		add(fontHeading, "Applicable Legal Provisions:")
		add(fontBody, rec.LegalBasis)
	}
	if rec.AttachmentPath != "" {
		lines = append(lines, line{})
		add(fontHeading, "Attachment on file:")
		add(fontBody, rec.AttachmentPath)
	}
	lines = append(lines, line{})
	add(fontSmall, footerText)

	desc := PageDescription{
		Paper:  "A4P",
		Origin: "UpperLeft",
		Fonts: map[string]FontSpec{
			fontTitle:   {Name: "Helvetica-Bold", Size: 16},
			fontHeading: {Name: "Helvetica-Bold", Size: 11},
			fontBody:    {Name: "Helvetica", Size: 11},
			fontSmall:   {Name: "Helvetica-Oblique", Size: 9},
		},
		Pages: map[string]Page{},
	}

	usable := (pageHeight - marginTop - marginBottom) / lineHeight
	perPage := int(usable)
	pageNo := 0
	var page Page
	for i, l := range lines {
		if i%perPage == 0 {
			if i > 0 {
				desc.Pages[strconv.Itoa(pageNo)] = page
			}
			pageNo++
			page = Page{}
		}
		if l.text == "" {
			continue
		}
		y := marginTop + float64(i%perPage)*lineHeight
		page.Content.Text = append(page.Content.Text, Text{
			Value: l.text,
			Pos:   [2]float64{marginLeft, y},
			Font:  FontRef{Name: "$" + l.font},
		})
	}
	desc.Pages[strconv.Itoa(pageNo)] = page
	return desc
}

// wrap splits text into lines of at most width runes, breaking on spaces
// where possible and honoring embedded newlines. Characters outside Latin-1
// are replaced since the standard PDF fonts cannot encode them.
func wrap(text string, width int) []string {
	text = latin1(text)
	var out []string
	for _, para := range strings.Split(text, "\n") {
		words := strings.Fields(para)
		if len(words) == 0 {
			out = append(out, "")
			continue
		}
		cur := ""
		for _, w := range words {
			for len([]rune(w)) > width {
				if cur != "" {
					out = append(out, cur)
					cur = ""
				}
				rw := []rune(w)
				out = append(out, string(rw[:width]))
				w = string(rw[width:])
			}
			switch {
			case cur == "":
				cur = w
			case len([]rune(cur))+1+len([]rune(w)) <= width:
				cur += " " + w
			default:
				out = append(out, cur)
				cur = w
			}
		}
		if cur != "" {
			out = append(out, cur)
		}
	}
	return out
}

func latin1(s string) string {
	return strings.Map(func(r rune) rune {
		if r > 0xFF {
			return '?'
		}
		return r
	}, s)
}
