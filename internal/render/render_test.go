package render

import (
	"encoding/json"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/CivicPipe/internal/models"
)

func sampleRecord() models.Record {
	return models.Record{
		Reference: "4b3d0c1e-0000-4000-8000-000000000001",
		Kind:      models.FlowFiling,
		UserID:    "+919876543210",
		Fields: []models.Field{
			{Key: models.FieldName, Value: "Asha Rao"},
			{Key: models.FieldEmail, Value: ""},
			{Key: models.FieldCategory, Value: "Theft"},
		},
		LegalBasis:     "BNS Section 303: Theft",
		AttachmentPath: "identity/filing/identity_filing_919876543210_20250101120000.jpg",
		CreatedAt:      time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC),
	}
}

func pageValues(p Page) []string {
	var out []string
	for _, t := range p.Content.Text {
		out = append(out, t.Value)
	}
	return out
}

func TestDocumentPath(t *testing.T) {
	got := DocumentPath(sampleRecord())
	want := "documents/filing/filing_919876543210_20250101120000.pdf"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestLayoutOrdersSections(t *testing.T) {
	desc := Layout(sampleRecord())
	if desc.Paper != "A4P" || desc.Origin != "UpperLeft" {
		t.Errorf("unexpected page setup: %s %s", desc.Paper, desc.Origin)
	}
	if len(desc.Pages) != 1 {
		t.Fatalf("expected 1 page, got %d", len(desc.Pages))
	}
	values := pageValues(desc.Pages["1"])
	joined := strings.Join(values, "|")

	if values[0] != models.RecordTitle(models.FlowFiling) {
		t.Errorf("expected title first, got %q", values[0])
	}
	order := []string{"Name:", "Asha Rao", "Complaint Type:", "Theft", "Applicable Legal Provisions:", "BNS Section 303: Theft", "Attachment on file:", footerText}
	pos := -1
	for _, s := range order {
		i := strings.Index(joined, s)
		if i < 0 {
			t.Fatalf("missing %q in %q", s, joined)
		}
		if i < pos {
			t.Errorf("%q out of order", s)
		}
		pos = i
	}
	if strings.Contains(joined, "Email:") {
		t.Error("empty fields must be omitted")
	}
}

func TestLayoutFontsAreDeclared(t *testing.T) {
	desc := Layout(sampleRecord())
	for _, p := range desc.Pages {
		for _, tx := range p.Content.Text {
			name := strings.TrimPrefix(tx.Font.Name, "$")
			if _, ok := desc.Fonts[name]; !ok {
				t.Errorf("text %q references undeclared font %q", tx.Value, tx.Font.Name)
			}
		}
	}
	if _, err := json.Marshal(desc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLayoutPaginatesLongRecords(t *testing.T) {
	rec := sampleRecord()
	rec.Fields = append(rec.Fields, models.Field{Key: models.FieldAdditionalDetails, Value: strings.Repeat("word ", 2000)})

	desc := Layout(rec)
	if len(desc.Pages) < 2 {
		t.Fatalf("expected multiple pages, got %d", len(desc.Pages))
	}
	for key, p := range desc.Pages {
		for _, tx := range p.Content.Text {
			if tx.Pos[1] < marginTop || tx.Pos[1] > pageHeight-marginBottom {
				t.Errorf("page %s: text at y=%v outside margins", key, tx.Pos[1])
			}
		}
	}
	last := desc.Pages[strconv.Itoa(len(desc.Pages))]
	values := pageValues(last)
	if len(values) == 0 || values[len(values)-1] != footerText {
		t.Errorf("expected footer on last page, got %v", values)
	}
}


func TestWrap(t *testing.T) {
	lines := wrap("alpha beta gamma\n\ndelta", 11)
	want := []string{"alpha beta", "gamma", "", "delta"}
	if strings.Join(lines, "|") != strings.Join(want, "|") {
		t.Errorf("expected %v, got %v", want, lines)
	}

	long := wrap(strings.Repeat("x", 25), 10)
	if len(long) != 3 || long[2] != "xxxxx" {
		t.Errorf("unexpected hard wrap: %v", long)
	}

	if got := wrap("₹10 fee", 20); got[0] != "?10 fee" {
		t.Errorf("expected non-Latin-1 replacement, got %q", got[0])
	}
}
