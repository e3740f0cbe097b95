// Package pdf renders member listings as printable A4 documents.
package pdf

import (
	"bytes"
	"fmt"
	"time"

	"github.com/go-pdf/fpdf"

	"welfare/internal/domain/member"
)

const (
	pageMargin = 10.0
	rowHeight  = 7.0
	fontFamily = "Helvetica"
)

type column struct {
	heading string
	width   float64
	value   func(m member.Member) string
}

// Columns sum to the printable width of an A4 portrait page (190mm).
var columns = []column{
	{heading: "Member No.", width: 25, value: func(m member.Member) string { return m.MemberNumber }},
	{heading: "Name", width: 45, value: func(m member.Member) string { return m.FullName }},
	{heading: "Contact", width: 50, value: func(m member.Member) string { return m.ContactLine() }},
	{heading: "Address", width: 50, value: func(m member.Member) string { return m.AddressLine() }},
	{heading: "Status", width: 20, value: func(m member.Member) string { return m.Status }},
}

// Renderer builds member list PDFs.
type Renderer struct {
	// Author is written into the document properties.
	Author string
}

// NewRenderer returns a Renderer that signs documents with author.
func NewRenderer(author string) *Renderer {
	return &Renderer{Author: author}
}

// Render lays out members as a paginated table under title.
// PRE: members are in the order they should be printed
// POST: Returns the encoded PDF; every page repeats the table heading and carries "Page n of N"
func (r *Renderer) Render(title string, members []member.Member, generatedAt time.Time) ([]byte, error) {
	doc := r.build(title, members, generatedAt)
	if err := doc.Error(); err != nil {
		return nil, fmt.Errorf("render %q: %w", title, err)
	}
	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		return nil, fmt.Errorf("render %q: %w", title, err)
	}
	return buf.Bytes(), nil
}

func (r *Renderer) build(title string, members []member.Member, generatedAt time.Time) *fpdf.Fpdf {
	doc := fpdf.New("P", "mm", "A4", "")
	tr := doc.UnicodeTranslatorFromDescriptor("")
	doc.SetMargins(pageMargin, pageMargin, pageMargin)
	doc.SetAutoPageBreak(true, 15)
	doc.SetTitle(title, true)
	doc.SetAuthor(r.Author, true)
	doc.SetCreator("welfare", true)
	doc.SetCreationDate(generatedAt)
	doc.AliasNbPages("")

	doc.SetHeaderFunc(func() {
		if doc.PageNo() == 1 {
			doc.SetFont(fontFamily, "B", 14)
			doc.CellFormat(0, 8, tr(title), "", 1, "L", false, 0, "")
			doc.SetFont(fontFamily, "", 9)
			doc.SetTextColor(90, 90, 90)
			doc.CellFormat(0, 6, "Generated "+generatedAt.Format("2 January 2006 15:04"), "", 1, "L", false, 0, "")
			doc.SetTextColor(0, 0, 0)
			doc.Ln(2)
		}
		doc.SetFont(fontFamily, "B", 9)
		doc.SetFillColor(230, 236, 242)
		for _, c := range columns {
			doc.CellFormat(c.width, rowHeight, c.heading, "1", 0, "L", true, 0, "")
		}
		doc.Ln(-1)
	})
	doc.SetFooterFunc(func() {
		doc.SetY(-12)
		doc.SetFont(fontFamily, "I", 8)
		doc.CellFormat(0, 8, fmt.Sprintf("Page %d of {nb}", doc.PageNo()), "", 0, "C", false, 0, "")
	})

	doc.AddPage()
	doc.SetFont(fontFamily, "", 9)
	for i, m := range members {
		fill := i%2 == 1
		doc.SetFillColor(247, 247, 247)
		for _, c := range columns {
			doc.CellFormat(c.width, rowHeight, fit(doc, tr(c.value(m)), c.width), "1", 0, "L", fill, 0, "")
		}
		doc.Ln(-1)
	}
	doc.Ln(2)
	doc.SetFont(fontFamily, "I", 9)
	doc.CellFormat(0, rowHeight, fmt.Sprintf("Total members: %d", len(members)), "", 1, "L", false, 0, "")
	return doc
}

// fit trims s until it fits a cell of width w, marking the cut with "...".
func fit(doc *fpdf.Fpdf, s string, w float64) string {
	limit := w - 2*doc.GetCellMargin()
	if doc.GetStringWidth(s) <= limit {
		return s
	}
	b := []byte(s)
	for len(b) > 0 && doc.GetStringWidth(string(b)+"...") > limit {
		b = b[:len(b)-1]
	}
	return string(b) + "..."
}
