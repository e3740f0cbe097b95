package reports

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"welfare/internal/adapters/email"
	"welfare/internal/adapters/http/perf"
	"welfare/internal/domain/access"
	"welfare/internal/domain/account"
	"welfare/internal/domain/audit"
	"welfare/internal/domain/member"
	"welfare/internal/domain/notify"
)

type fakeLister struct {
	members []member.Member
	err     error
	calls   []string
}

func (f *fakeLister) ListByCollector(_ context.Context, collector string) ([]member.Member, error) {
	f.calls = append(f.calls, collector)
	if f.err != nil {
		return nil, f.err
	}
	var out []member.Member
	for _, m := range f.members {
		if m.Collector == collector {
			out = append(out, m)
		}
	}
	return out, nil
}

// fakeRenderer writes the title and member numbers so tests can inspect documents.
type fakeRenderer struct {
	mu     sync.Mutex
	titles []string
	failOn string
	// block, when set, holds every render until it is closed.
	block   chan struct{}
	entered chan struct{}
}

func (f *fakeRenderer) Render(title string, members []member.Member, _ time.Time) ([]byte, error) {
	if f.entered != nil {
		select {
		case f.entered <- struct{}{}:
		default:
		}
	}
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	f.titles = append(f.titles, title)
	f.mu.Unlock()
	if f.failOn != "" && title == CollectorTitle(f.failOn) {
		return nil, errors.New("font missing")
	}
	var buf bytes.Buffer
	buf.WriteString(title)
	for _, m := range members {
		buf.WriteString("\n" + m.MemberNumber)
	}
	return buf.Bytes(), nil
}

type memAudit struct {
	mu     sync.Mutex
	events []audit.Event
}

func (m *memAudit) Save(_ context.Context, e audit.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

var fixtureMembers = []member.Member{
	{MemberNumber: "TM10005", FullName: "Usman Ali", Collector: "Tariq Mahmood"},
	{MemberNumber: "TM10002", FullName: "Sana Iqbal", Collector: "Anjum Riaz"},
	{MemberNumber: "TM10001", FullName: "Imran Khan", Collector: "Anjum Riaz"},
	{MemberNumber: "TM10006", FullName: "Ayesha Malik", Collector: "Nasreen Akhtar"},
	{MemberNumber: "TM10004", FullName: "Farah Hussain", Collector: "Tariq Mahmood"},
}

func adminRequester(t *testing.T) (Requester, *notify.Recorder) {
	t.Helper()
	acc, err := access.Resolve(account.RoleAdmin, account.Metadata{})
	require.NoError(t, err)
	rec := &notify.Recorder{}
	return Requester{UserID: "admin-1", Login: "admin", Email: "committee@example.org", Access: acc, Notifier: rec}, rec
}

func collectorRequester(t *testing.T, name string) (Requester, *notify.Recorder) {
	t.Helper()
	acc, err := access.Resolve(account.RoleCollector, account.Metadata{CollectorName: name})
	require.NoError(t, err)
	rec := &notify.Recorder{}
	return Requester{UserID: "col-1", Login: "COL001", Access: acc, Notifier: rec}, rec
}

func newTestGenerator(lister *fakeLister, renderer *fakeRenderer) *Generator {
	return NewGenerator(Deps{
		Members:  lister,
		Renderer: renderer,
		Now:      func() time.Time { return time.Date(2025, 2, 3, 10, 0, 0, 0, time.UTC) },
	})
}

func readZip(t *testing.T, data []byte) map[string]string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	out := make(map[string]string)
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		b, err := io.ReadAll(rc)
		require.NoError(t, err)
		rc.Close()
		out[f.Name] = string(b)
	}
	return out
}

func TestPrintCollector_OrderedDocument(t *testing.T) {
	lister := &fakeLister{members: []member.Member{fixtureMembers[2], fixtureMembers[1]}}
	renderer := &fakeRenderer{}
	audits := &memAudit{}
	g := NewGenerator(Deps{Members: lister, Renderer: renderer, AuditStore: audits})
	req, rec := collectorRequester(t, "Anjum Riaz")

	doc, err := g.PrintCollector(context.Background(), req, "Anjum Riaz")
	require.NoError(t, err)

	assert.Equal(t, "Anjum Riaz.pdf", doc.Filename)
	assert.Equal(t, "application/pdf", doc.ContentType)
	assert.Equal(t, "Members List - Collector: Anjum Riaz\nTM10001\nTM10002", string(doc.Data))
	assert.Equal(t, []notify.Notification{notify.Success("PDF report generated successfully")}, rec.All())
	assert.False(t, g.Progress("col-1").Generating)
	require.Len(t, audits.events, 1)
	assert.Equal(t, audit.ActionPrint, audits.events[0].Action)
}

func TestPrintCollector_NoMembers(t *testing.T) {
	renderer := &fakeRenderer{}
	g := newTestGenerator(&fakeLister{}, renderer)
	req, rec := adminRequester(t)

	doc, err := g.PrintCollector(context.Background(), req, "Nobody")
	assert.ErrorIs(t, err, ErrNoMembers)
	assert.Empty(t, doc.Data)
	assert.Empty(t, renderer.titles, "no document is produced")
	assert.Equal(t, []notify.Notification{notify.Error("No members found for this collector")}, rec.All())
}

func TestPrintCollector_Failures(t *testing.T) {
	t.Run("query error", func(t *testing.T) {
		g := newTestGenerator(&fakeLister{err: errors.New("connection refused")}, &fakeRenderer{})
		req, rec := adminRequester(t)
		_, err := g.PrintCollector(context.Background(), req, "Anjum Riaz")
		require.Error(t, err)
		assert.Equal(t, []notify.Notification{notify.Error("Failed to generate PDF report")}, rec.All())
		assert.False(t, g.Progress(req.UserID).Generating)
	})
	t.Run("render error", func(t *testing.T) {
		g := newTestGenerator(&fakeLister{members: fixtureMembers}, &fakeRenderer{failOn: "Anjum Riaz"})
		req, rec := adminRequester(t)
		_, err := g.PrintCollector(context.Background(), req, "Anjum Riaz")
		require.Error(t, err)
		assert.Equal(t, []notify.Notification{notify.Error("Failed to generate PDF report")}, rec.All())
	})
}

func TestPrintCollector_OtherCollectorForbidden(t *testing.T) {
	lister := &fakeLister{members: fixtureMembers}
	g := newTestGenerator(lister, &fakeRenderer{})
	req, rec := collectorRequester(t, "Anjum Riaz")

	_, err := g.PrintCollector(context.Background(), req, "Tariq Mahmood")
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Empty(t, lister.calls)
	assert.Empty(t, rec.All())
}

func TestPrintAll_ProgressFiresOncePerCollector(t *testing.T) {
	g := newTestGenerator(&fakeLister{}, &fakeRenderer{})
	req, rec := adminRequester(t)

	type call struct {
		current, total int
		collector      string
	}
	var calls []call
	doc, err := g.PrintAll(context.Background(), req, fixtureMembers, func(current, total int, collector string) {
		calls = append(calls, call{current, total, collector})
		p := g.Progress(req.UserID)
		assert.True(t, p.Generating)
		assert.Equal(t, current, p.Current)
	})
	require.NoError(t, err)

	assert.Equal(t, []call{
		{1, 3, "Anjum Riaz"},
		{2, 3, "Nasreen Akhtar"},
		{3, 3, "Tariq Mahmood"},
	}, calls)
	assert.Equal(t, "application/zip", doc.ContentType)
	assert.Equal(t, "collectors-2025-02-03.zip", doc.Filename)

	files := readZip(t, doc.Data)
	assert.Len(t, files, 3)
	assert.Equal(t, "Members List - Collector: Anjum Riaz\nTM10001\nTM10002", files["Anjum Riaz.pdf"])
	assert.Equal(t, "Members List - Collector: Tariq Mahmood\nTM10004\nTM10005", files["Tariq Mahmood.pdf"])

	assert.Equal(t, []notify.Notification{notify.Success("ZIP file with all collector reports generated successfully")}, rec.All())
	assert.Equal(t, Progress{}, g.Progress(req.UserID))
}

func TestPrintAll_NilMembers(t *testing.T) {
	renderer := &fakeRenderer{}
	g := newTestGenerator(&fakeLister{}, renderer)
	req, rec := adminRequester(t)

	_, err := g.PrintAll(context.Background(), req, nil, nil)
	assert.ErrorIs(t, err, ErrNoMembers)
	assert.Empty(t, renderer.titles)
	assert.Equal(t, []notify.Notification{notify.Error("No members data available to print")}, rec.All())
}

func TestPrintAll_EmptyListGivesEmptyArchive(t *testing.T) {
	g := newTestGenerator(&fakeLister{}, &fakeRenderer{})
	req, _ := adminRequester(t)

	fired := 0
	doc, err := g.PrintAll(context.Background(), req, []member.Member{}, func(int, int, string) { fired++ })
	require.NoError(t, err)
	assert.Zero(t, fired)
	assert.Empty(t, readZip(t, doc.Data))
}

func TestPrintAll_RenderFailureResetsProgress(t *testing.T) {
	metrics := perf.NewMetrics()
	g := NewGenerator(Deps{Members: &fakeLister{}, Renderer: &fakeRenderer{failOn: "Nasreen Akhtar"}, Metrics: metrics})
	req, rec := adminRequester(t)

	fired := 0
	_, err := g.PrintAll(context.Background(), req, fixtureMembers, func(int, int, string) { fired++ })
	require.Error(t, err)
	assert.Equal(t, 1, fired)
	assert.Equal(t, []notify.Notification{notify.Error("Failed to generate ZIP file")}, rec.All())
	assert.Equal(t, Progress{}, g.Progress(req.UserID))
	n, err := testutil.GatherAndCount(metrics.Registry(), "welfare_reports_generated_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPrintAll_StopsWhenCancelled(t *testing.T) {
	g := newTestGenerator(&fakeLister{}, &fakeRenderer{})
	req, _ := adminRequester(t)
	ctx, cancel := context.WithCancel(context.Background())

	fired := 0
	_, err := g.PrintAll(ctx, req, fixtureMembers, func(int, int, string) {
		fired++
		cancel()
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, fired)
}

func TestPrintAll_CollectorForbidden(t *testing.T) {
	g := newTestGenerator(&fakeLister{}, &fakeRenderer{})
	req, _ := collectorRequester(t, "Anjum Riaz")
	_, err := g.PrintAll(context.Background(), req, fixtureMembers, nil)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestGenerator_RejectsConcurrentGeneration(t *testing.T) {
	renderer := &fakeRenderer{block: make(chan struct{}), entered: make(chan struct{}, 1)}
	g := newTestGenerator(&fakeLister{members: fixtureMembers}, renderer)
	req, _ := adminRequester(t)

	errc := make(chan error, 1)
	go func() {
		_, err := g.PrintAll(context.Background(), req, fixtureMembers, nil)
		errc <- err
	}()
	<-renderer.entered

	_, err := g.PrintCollector(context.Background(), req, "Anjum Riaz")
	assert.ErrorIs(t, err, ErrGenerationInProgress)
	assert.True(t, g.Progress(req.UserID).Generating)

	// Another user is not blocked.
	other := req
	other.UserID = "admin-2"
	assert.False(t, g.Progress(other.UserID).Generating)

	close(renderer.block)
	require.NoError(t, <-errc)
	assert.False(t, g.Progress(req.UserID).Generating)
}

func TestEmailCollector(t *testing.T) {
	mailer := email.NewNoopSender()
	audits := &memAudit{}
	g := NewGenerator(Deps{Members: &fakeLister{members: fixtureMembers}, Renderer: &fakeRenderer{}, Mailer: mailer, AuditStore: audits})
	req, rec := adminRequester(t)

	require.NoError(t, g.EmailCollector(context.Background(), req, "Anjum Riaz"))

	sent := mailer.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, []string{"committee@example.org"}, sent[0].To)
	require.Len(t, sent[0].Attachments, 1)
	assert.Equal(t, "Anjum Riaz.pdf", sent[0].Attachments[0].Filename)
	assert.Equal(t, []notify.Notification{notify.Success("Report emailed to committee@example.org")}, rec.All())
	require.Len(t, audits.events, 1)
	assert.Equal(t, audit.ActionEmail, audits.events[0].Action)
}

func TestEmailCollector_NoAddress(t *testing.T) {
	g := NewGenerator(Deps{Members: &fakeLister{members: fixtureMembers}, Renderer: &fakeRenderer{}, Mailer: email.NewNoopSender()})
	req, rec := collectorRequester(t, "Anjum Riaz")

	err := g.EmailCollector(context.Background(), req, "Anjum Riaz")
	assert.ErrorIs(t, err, ErrNoEmailAddress)
	assert.Equal(t, []notify.Notification{notify.Error("No email address on your account")}, rec.All())
}

func TestGroupByCollector(t *testing.T) {
	groups := GroupByCollector(append([]member.Member{{MemberNumber: "TM10009", Collector: "  "}}, fixtureMembers...))
	names := make([]string, len(groups))
	for i, g := range groups {
		names[i] = g.Collector
	}
	assert.Equal(t, []string{"Anjum Riaz", "Nasreen Akhtar", "Tariq Mahmood", UnassignedCollector}, names)
	assert.Equal(t, "TM10001", groups[0].Members[0].MemberNumber)
}

func TestPrintAll_DistinctEntriesForCollidingNames(t *testing.T) {
	g := newTestGenerator(&fakeLister{}, &fakeRenderer{})
	req, _ := adminRequester(t)
	members := []member.Member{
		{MemberNumber: "TM1", Collector: "A/B"},
		{MemberNumber: "TM2", Collector: "A:B"},
		{MemberNumber: "TM3", Collector: "A_B"},
	}

	doc, err := g.PrintAll(context.Background(), req, members, nil)
	require.NoError(t, err)

	files := readZip(t, doc.Data)
	assert.Len(t, files, 3)
	for _, name := range []string{"A_B.pdf", "A_B (2).pdf", "A_B (3).pdf"} {
		assert.Contains(t, files, name)
	}
}

func TestUniqueName(t *testing.T) {
	used := map[string]bool{}
	assert.Equal(t, "Anjum Riaz.pdf", uniqueName(used, "Anjum Riaz.pdf"))
	assert.Equal(t, "anjum riaz (2).pdf", uniqueName(used, "anjum riaz.pdf"))
	assert.Equal(t, "Anjum Riaz (3).pdf", uniqueName(used, "Anjum Riaz.pdf"))
	assert.Equal(t, "Tariq Mahmood.pdf", uniqueName(used, "Tariq Mahmood.pdf"))
}

func TestFilename(t *testing.T) {
	tests := map[string]string{
		"Anjum Riaz": "Anjum Riaz.pdf",
		"A/B":        "A_B.pdf",
		"  ":         "Unassigned.pdf",
		"..":         "Unassigned.pdf",
	}
	for in, want := range tests {
		assert.Equal(t, want, Filename(in), in)
	}
}
