package orchestrators

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/mail"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"welfare/internal/adapters/storage"
	"welfare/internal/domain/member"
)

// ImportMembersStore is the member persistence the import needs.
type ImportMembersStore interface {
	FindForIdentity(ctx context.Context, memberNumber, authUserID string) (member.Member, error)
	Save(ctx context.Context, m member.Member) error
}

// ImportMembersInput carries the roster CSV and import options.
type ImportMembersInput struct {
	Reader     io.Reader
	DryRun     bool
	UpdateMode bool
}

// ImportMembersResult holds aggregate counts and per-row errors from an import run.
type ImportMembersResult struct {
	Total   int
	Created int
	Updated int
	Skipped int
	Errors  []ImportMembersRowError
	DryRun  bool
	Unknown []string
}

// ImportMembersRowError describes a rejected CSV row. Row 1 is the header.
type ImportMembersRowError struct {
	Row     int
	Message string
}

// ImportMembersDeps holds external dependencies for the import orchestrator.
type ImportMembersDeps struct {
	MemberStore ImportMembersStore
	GenerateID  func() string
	Now         func() time.Time
}

// ImportMembersValidationError is returned when the CSV header is unusable.
type ImportMembersValidationError struct {
	Message string
}

func (e *ImportMembersValidationError) Error() string {
	return e.Message
}

var importRequiredColumns = []string{"MEMBER_NUMBER", "NAME", "COLLECTOR"}

var importKnownColumns = map[string]bool{
	"MEMBER_NUMBER": true, "NAME": true, "EMAIL": true, "PHONE": true, "ADDRESS": true,
	"TOWN": true, "POSTCODE": true, "COLLECTOR": true, "STATUS": true, "TYPE": true,
}

// ExecuteImportMembers loads a roster CSV keyed by member number.
// PRE: Reader holds a header row with MEMBER_NUMBER, NAME and COLLECTOR
// POST: Rows are created, updated (UpdateMode) or skipped; nothing is written when DryRun
// INVARIANT: Existing members keep their ID and linked auth user
func ExecuteImportMembers(ctx context.Context, input ImportMembersInput, deps ImportMembersDeps) (ImportMembersResult, error) {
	now := time.Now().UTC()
	if deps.Now != nil {
		now = deps.Now()
	}

	cr := csv.NewReader(input.Reader)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return ImportMembersResult{}, fmt.Errorf("read header: %w", err)
	}
	colIdx := make(map[string]int, len(header))
	for i, h := range header {
		colIdx[strings.ToUpper(strings.TrimSpace(h))] = i
	}
	for _, col := range importRequiredColumns {
		if _, ok := colIdx[col]; !ok {
			return ImportMembersResult{}, &ImportMembersValidationError{Message: "CSV missing required column: " + col}
		}
	}

	result := ImportMembersResult{DryRun: input.DryRun}
	for _, h := range header {
		if !importKnownColumns[strings.ToUpper(strings.TrimSpace(h))] {
			result.Unknown = append(result.Unknown, h)
		}
	}

	getCol := func(row []string, col string) string {
		i, ok := colIdx[col]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}
	reject := func(row int, msg string) {
		result.Errors = append(result.Errors, ImportMembersRowError{Row: row, Message: msg})
	}

	rowNum := 1
	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		rowNum++
		if err != nil {
			result.Total++
			reject(rowNum, "malformed row: "+err.Error())
			continue
		}
		result.Total++

		m := member.Member{
			MemberNumber:   strings.ToUpper(getCol(row, "MEMBER_NUMBER")),
			FullName:       getCol(row, "NAME"),
			Phone:          getCol(row, "PHONE"),
			Address:        getCol(row, "ADDRESS"),
			Town:           getCol(row, "TOWN"),
			Postcode:       strings.ToUpper(getCol(row, "POSTCODE")),
			Collector:      getCol(row, "COLLECTOR"),
			Status:         strings.ToLower(getCol(row, "STATUS")),
			MembershipType: strings.ToLower(getCol(row, "TYPE")),
		}
		if raw := getCol(row, "EMAIL"); raw != "" {
			addr, err := mail.ParseAddress(raw)
			if err != nil {
				reject(rowNum, "invalid email: "+raw)
				continue
			}
			m.Email = strings.ToLower(addr.Address)
		}
		if m.Status == "" {
			m.Status = member.StatusActive
		}
		if m.MembershipType == "" {
			m.MembershipType = member.TypeStandard
		}
		if err := m.Validate(); err != nil {
			reject(rowNum, err.Error())
			continue
		}

		existing, err := deps.MemberStore.FindForIdentity(ctx, m.MemberNumber, "")
		exists := err == nil
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			log.Error().Err(err).Int("row", rowNum).Str("member_number", m.MemberNumber).Msg("members_import_lookup_failed")
			reject(rowNum, "lookup failed (see server log)")
			continue
		}
		if exists && !input.UpdateMode {
			result.Skipped++
			continue
		}
		if input.DryRun {
			if exists {
				result.Updated++
			} else {
				result.Created++
			}
			continue
		}

		if exists {
			m.ID = existing.ID
			m.AuthUserID = existing.AuthUserID
			m.CreatedAt = existing.CreatedAt
		} else {
			m.ID = deps.GenerateID()
			m.CreatedAt = now
		}
		if err := deps.MemberStore.Save(ctx, m); err != nil {
			log.Error().Err(err).Int("row", rowNum).Str("member_number", m.MemberNumber).Msg("members_import_save_failed")
			reject(rowNum, "save failed (see server log)")
			continue
		}
		if exists {
			result.Updated++
		} else {
			result.Created++
		}
	}

	log.Info().
		Bool("dry_run", input.DryRun).
		Bool("update_mode", input.UpdateMode).
		Int("total", result.Total).
		Int("created", result.Created).
		Int("updated", result.Updated).
		Int("skipped", result.Skipped).
		Int("errors", len(result.Errors)).
		Msg("members_import")
	return result, nil
}
