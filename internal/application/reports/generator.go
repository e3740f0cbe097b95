// Package reports builds the collector member listings: one PDF per collector,
// or a ZIP holding one PDF for every collector.
package reports

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"welfare/internal/adapters/email"
	"welfare/internal/adapters/http/perf"
	"welfare/internal/domain/access"
	"welfare/internal/domain/audit"
	"welfare/internal/domain/member"
	"welfare/internal/domain/notify"
)

// Report kinds, used for metrics and timings.
const (
	KindCollector = "collector"
	KindAll       = "all"
	KindEmail     = "email"
)

// UnassignedCollector groups members that have no collector.
const UnassignedCollector = "Unassigned"

// Errors
var (
	ErrNoMembers            = errors.New("no members to print")
	ErrGenerationInProgress = errors.New("a report is already being generated")
	ErrForbidden            = errors.New("not allowed to print this report")
	ErrNoEmailAddress       = errors.New("no email address to send the report to")
)

// MemberLister re-reads a collector's members at print time.
type MemberLister interface {
	ListByCollector(ctx context.Context, collector string) ([]member.Member, error)
}

// Renderer turns a titled member list into a document.
type Renderer interface {
	Render(title string, members []member.Member, generatedAt time.Time) ([]byte, error)
}

// AuditStore records who printed what.
type AuditStore interface {
	Save(ctx context.Context, e audit.Event) error
}

// Deps holds the generator's collaborators. Metrics, Timings, Mailer and AuditStore are optional.
type Deps struct {
	Members    MemberLister
	Renderer   Renderer
	Mailer     email.Sender
	ReplyTo    string
	AuditStore AuditStore
	Metrics    *perf.Metrics
	Timings    *perf.Collector
	Now        func() time.Time
}

// Requester is the signed-in user asking for a report.
type Requester struct {
	UserID   string
	Login    string
	Email    string
	Access   access.Access
	Notifier notify.Notifier
}

func (r Requester) notify(n notify.Notification) {
	if r.Notifier != nil {
		r.Notifier.Notify(n)
	}
}

// Document is a generated download.
type Document struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Progress is the state of a user's bulk generation.
type Progress struct {
	Generating bool   `json:"generating"`
	Current    int    `json:"current"`
	Total      int    `json:"total"`
	Collector  string `json:"collector"`
}

// ProgressFunc is called after each document of a bulk generation completes.
type ProgressFunc func(current, total int, collector string)

// Generator produces reports. One generation per user runs at a time.
type Generator struct {
	deps Deps

	mu       sync.Mutex
	progress map[string]Progress // keyed by user id
}

// NewGenerator creates a Generator.
// PRE: deps.Members and deps.Renderer are set
func NewGenerator(deps Deps) *Generator {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Generator{deps: deps, progress: make(map[string]Progress)}
}

// Progress returns the current generation state for userID.
func (g *Generator) Progress(userID string) Progress {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.progress[userID]
}

func (g *Generator) begin(userID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.progress[userID].Generating {
		return ErrGenerationInProgress
	}
	g.progress[userID] = Progress{Generating: true}
	return nil
}

func (g *Generator) advance(userID string, current, total int, collector string) {
	g.mu.Lock()
	g.progress[userID] = Progress{Generating: true, Current: current, Total: total, Collector: collector}
	g.mu.Unlock()
}

func (g *Generator) finish(userID string) {
	g.mu.Lock()
	delete(g.progress, userID)
	g.mu.Unlock()
}

// CollectorTitle is the heading of a collector's member list.
func CollectorTitle(collector string) string {
	return "Members List - Collector: " + collector
}

// PrintCollector re-reads a collector's members ordered by member number and renders them.
// PRE: req.Access allows printing collector
// POST: Returns the PDF, or ErrNoMembers with a single notification when the collector has no members
// INVARIANT: Progress for req.UserID is reset before returning
func (g *Generator) PrintCollector(ctx context.Context, req Requester, collector string) (Document, error) {
	collector = strings.TrimSpace(collector)
	if !req.Access.CanPrintCollector(collector) {
		return Document{}, ErrForbidden
	}
	if err := g.begin(req.UserID); err != nil {
		return Document{}, err
	}
	defer g.finish(req.UserID)

	start := g.deps.Now()
	doc, err := g.collectorDocument(ctx, collector, start)
	switch {
	case errors.Is(err, ErrNoMembers):
		req.notify(notify.Error("No members found for this collector"))
		g.done(KindCollector, "empty", start)
		return Document{}, err
	case err != nil:
		log.Error().Err(err).Str("collector", collector).Str("user_id", req.UserID).Msg("report_failed")
		req.notify(notify.Error("Failed to generate PDF report"))
		g.done(KindCollector, "error", start)
		return Document{}, err
	}

	req.notify(notify.Success("PDF report generated successfully"))
	g.done(KindCollector, "success", start)
	g.audit(ctx, req, audit.ActionPrint, collector, "Printed members list for "+collector)
	log.Info().Str("collector", collector).Str("user_id", req.UserID).Int("bytes", len(doc.Data)).Msg("report_generated")
	return doc, nil
}

func (g *Generator) collectorDocument(ctx context.Context, collector string, at time.Time) (Document, error) {
	members, err := g.deps.Members.ListByCollector(ctx, collector)
	if err != nil {
		return Document{}, fmt.Errorf("list members of %s: %w", collector, err)
	}
	if len(members) == 0 {
		return Document{}, ErrNoMembers
	}
	data, err := g.deps.Renderer.Render(CollectorTitle(collector), members, at)
	if err != nil {
		return Document{}, err
	}
	return Document{Filename: Filename(collector), ContentType: "application/pdf", Data: data}, nil
}

// PrintAll renders one PDF per collector into a ZIP.
// Collectors are processed in name order and members in member number order.
// PRE: req.Access allows printing all collectors
// POST: progress fires once per collector with current 1..N and total N
// INVARIANT: Progress for req.UserID is reset before returning
func (g *Generator) PrintAll(ctx context.Context, req Requester, members []member.Member, progress ProgressFunc) (Document, error) {
	if !req.Access.CanPrintAll() {
		return Document{}, ErrForbidden
	}
	if members == nil {
		req.notify(notify.Error("No members data available to print"))
		return Document{}, ErrNoMembers
	}
	if err := g.begin(req.UserID); err != nil {
		return Document{}, err
	}
	defer g.finish(req.UserID)

	start := g.deps.Now()
	data, err := g.buildArchive(ctx, req.UserID, GroupByCollector(members), start, progress)
	if err != nil {
		log.Error().Err(err).Str("user_id", req.UserID).Msg("report_failed")
		req.notify(notify.Error("Failed to generate ZIP file"))
		g.done(KindAll, "error", start)
		return Document{}, err
	}

	req.notify(notify.Success("ZIP file with all collector reports generated successfully"))
	g.done(KindAll, "success", start)
	g.audit(ctx, req, audit.ActionPrint, "", "Printed members lists for all collectors")
	log.Info().Str("user_id", req.UserID).Int("members", len(members)).Int("bytes", len(data)).Msg("report_generated")
	return Document{
		Filename:    "collectors-" + start.Format("2006-01-02") + ".zip",
		ContentType: "application/zip",
		Data:        data,
	}, nil
}

// Group is one collector's members.
type Group struct {
	Collector string
	Members   []member.Member
}

// GroupByCollector groups members by collector name, both sorted ascending.
func GroupByCollector(members []member.Member) []Group {
	byCollector := lo.GroupBy(members, func(m member.Member) string {
		if name := strings.TrimSpace(m.Collector); name != "" {
			return name
		}
		return UnassignedCollector
	})
	names := lo.Keys(byCollector)
	slices.Sort(names)

	groups := make([]Group, 0, len(names))
	for _, name := range names {
		list := slices.Clone(byCollector[name])
		slices.SortFunc(list, func(a, b member.Member) int { return strings.Compare(a.MemberNumber, b.MemberNumber) })
		groups = append(groups, Group{Collector: name, Members: list})
	}
	return groups
}

func (g *Generator) buildArchive(ctx context.Context, userID string, groups []Group, at time.Time, progress ProgressFunc) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	total := len(groups)
	used := make(map[string]bool, total)
	for i, grp := range groups {
		if err := ctx.Err(); err != nil {
			zw.Close()
			return nil, err
		}
		data, err := g.deps.Renderer.Render(CollectorTitle(grp.Collector), grp.Members, at)
		if err != nil {
			zw.Close()
			return nil, fmt.Errorf("render %s: %w", grp.Collector, err)
		}
		w, err := zw.CreateHeader(&zip.FileHeader{Name: uniqueName(used, Filename(grp.Collector)), Method: zip.Deflate, Modified: at})
		if err != nil {
			zw.Close()
			return nil, fmt.Errorf("zip %s: %w", grp.Collector, err)
		}
		if _, err := w.Write(data); err != nil {
			zw.Close()
			return nil, fmt.Errorf("zip %s: %w", grp.Collector, err)
		}
		g.advance(userID, i+1, total, grp.Collector)
		if progress != nil {
			progress(i+1, total, grp.Collector)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close zip: %w", err)
	}
	return buf.Bytes(), nil
}

// EmailCollector renders a collector's list and sends it to the requester's email address.
// PRE: req.Access allows printing collector; deps.Mailer is set
// POST: One notification describes the outcome
func (g *Generator) EmailCollector(ctx context.Context, req Requester, collector string) error {
	collector = strings.TrimSpace(collector)
	if !req.Access.CanPrintCollector(collector) {
		return ErrForbidden
	}
	if g.deps.Mailer == nil || req.Email == "" {
		req.notify(notify.Error("No email address on your account"))
		return ErrNoEmailAddress
	}
	if err := g.begin(req.UserID); err != nil {
		return err
	}
	defer g.finish(req.UserID)

	start := g.deps.Now()
	doc, err := g.collectorDocument(ctx, collector, start)
	if errors.Is(err, ErrNoMembers) {
		req.notify(notify.Error("No members found for this collector"))
		g.done(KindEmail, "empty", start)
		return err
	}
	if err == nil {
		_, err = g.deps.Mailer.Send(ctx, email.SendRequest{
			To:      []string{req.Email},
			Subject: CollectorTitle(collector),
			HTML:    "<p>The members list for " + html.EscapeString(collector) + " is attached.</p>",
			ReplyTo: g.deps.ReplyTo,
			Attachments: []email.Attachment{
				{Filename: doc.Filename, ContentType: doc.ContentType, Content: doc.Data},
			},
		})
	}
	if err != nil {
		log.Error().Err(err).Str("collector", collector).Str("user_id", req.UserID).Msg("report_email_failed")
		req.notify(notify.Error("Failed to email report"))
		g.done(KindEmail, "error", start)
		return err
	}

	req.notify(notify.Success("Report emailed to " + req.Email))
	g.done(KindEmail, "success", start)
	g.audit(ctx, req, audit.ActionEmail, collector, "Emailed members list for "+collector)
	return nil
}

// Filename is the document name for a collector, safe for archives and downloads.
func Filename(collector string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\' || r == ':' || r == '"' || r < 0x20:
			return '_'
		}
		return r
	}, strings.TrimSpace(collector))
	if name == "" || name == "." || name == ".." {
		name = UnassignedCollector
	}
	return name + ".pdf"
}

// uniqueName suffixes name with " (2)", " (3)", ... until no earlier entry
// shares it, ignoring case, and records the result in used.
func uniqueName(used map[string]bool, name string) string {
	base := strings.TrimSuffix(name, ".pdf")
	for n := 2; used[strings.ToLower(name)]; n++ {
		name = fmt.Sprintf("%s (%d).pdf", base, n)
	}
	used[strings.ToLower(name)] = true
	return name
}

func (g *Generator) done(kind, outcome string, start time.Time) {
	g.deps.Metrics.ReportGenerated(kind, outcome)
	if g.deps.Timings != nil {
		end := g.deps.Now()
		g.deps.Timings.Record(perf.Entry{
			Kind:       perf.KindReport,
			Path:       kind,
			DurationMs: float64(end.Sub(start).Microseconds()) / 1000,
			Timestamp:  end,
		})
	}
}

func (g *Generator) audit(ctx context.Context, req Requester, action audit.Action, collector, desc string) {
	if g.deps.AuditStore == nil {
		return
	}
	e := audit.NewEvent(req.UserID, req.Login, req.Access.Role, audit.CategoryReport, action, g.deps.Now()).
		WithResource("collector", collector).
		WithDescription(desc)
	if err := g.deps.AuditStore.Save(ctx, e); err != nil {
		log.Error().Err(err).Str("action", string(action)).Msg("audit_save_failed")
	}
}
