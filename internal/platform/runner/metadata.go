package runner

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"

	"github.com/flourish/export/internal/platform/schema"
)

// ErrLockTimeout is returned when a metadata workbook stays locked past the
// acquisition deadline.
var ErrLockTimeout = fmt.Errorf("timed out waiting for workbook lock")

var sheetNameRe = regexp.MustCompile(`[\\/*?:\[\]"<>|]`)

// SanitizeSheetName replaces characters Excel rejects in sheet names and
// truncates to the 31-character sheet name limit.
func SanitizeSheetName(name string) string {
	name = sheetNameRe.ReplaceAllString(name, "_")
	if len(name) > 31 {
		name = name[:31]
	}
	if name == "" {
		name = "Sheet1"
	}
	return name
}

var metadataHeader = []string{
	"Variable Name", "Variable Label Baseline", "Variable Label FollowUp",
	"Field Type", "Choices", "Max Length", "Nullable", "Blank", "Editable",
}

// MetadataExporter writes per-kind data dictionary sheets into shared
// workbooks. Writes to the same workbook are serialized by a per-file lock
// so concurrent jobs appending sheets do not clobber each other.
type MetadataExporter struct {
	catalog     *schema.Catalog
	log         zerolog.Logger
	lockTimeout time.Duration

	mu    sync.Mutex
	locks map[string]*fileLock
}

type fileLock struct {
	ch chan struct{}
}

func NewMetadataExporter(catalog *schema.Catalog, log zerolog.Logger, lockTimeout time.Duration) *MetadataExporter {
	if lockTimeout <= 0 {
		lockTimeout = 30 * time.Second
	}
	return &MetadataExporter{
		catalog:     catalog,
		log:         log.With().Str("component", "metadata").Logger(),
		lockTimeout: lockTimeout,
		locks:       make(map[string]*fileLock),
	}
}

func (e *MetadataExporter) lockFor(path string) *fileLock {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[path]
	if !ok {
		l = &fileLock{ch: make(chan struct{}, 1)}
		l.ch <- struct{}{}
		e.locks[path] = l
	}
	return l
}

func (e *MetadataExporter) acquire(ctx context.Context, path string) (release func(), err error) {
	l := e.lockFor(path)
	timer := time.NewTimer(e.lockTimeout)
	defer timer.Stop()
	select {
	case <-l.ch:
		return func() { l.ch <- struct{}{} }, nil
	case <-timer.C:
		return nil, fmt.Errorf("%s: %w", path, ErrLockTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// dictionaryRows builds the sheet body for one kind: field metadata in
// declaration order, with the audit bookkeeping fields moved to the end.
func dictionaryRows(m *schema.ModelDescriptor) [][]string {
	audit := schema.ExclusionSet()
	var body, tail [][]string
	for _, fd := range m.Fields {
		if fd.Type == schema.TypeForeignKey {
			continue
		}
		row := []string{
			fd.Name,
			fd.Label,
			fd.FollowUpLabel,
			string(fd.Type),
			choicesCell(fd.Choices),
			maxLengthCell(fd.MaxLength),
			boolCell(fd.Nullable),
			boolCell(fd.Blank),
			boolCell(fd.Editable),
		}
		if _, isAudit := audit[fd.Name]; isAudit {
			tail = append(tail, row)
		} else {
			body = append(body, row)
		}
	}
	return append(body, tail...)
}

func choicesCell(choices []string) string {
	out := ""
	for i, c := range choices {
		if i > 0 {
			out += ", "
		}
		out += c
	}
	return out
}

func maxLengthCell(n int) string {
	if n == 0 {
		return ""
	}
	return strconv.Itoa(n)
}

func boolCell(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

// AppendSheet adds (or replaces) a sheet in the workbook at path, creating
// the workbook when absent. The whole open-modify-save cycle runs under the
// per-file lock.
func (e *MetadataExporter) AppendSheet(ctx context.Context, path, sheet string, rows [][]string) error {
	release, err := e.acquire(ctx, path)
	if err != nil {
		return err
	}
	defer release()

	sheet = SanitizeSheetName(sheet)

	var wb *excelize.File
	if _, statErr := os.Stat(path); statErr == nil {
		wb, err = excelize.OpenFile(path)
		if err != nil {
			return fmt.Errorf("open workbook %s: %w", path, err)
		}
	} else {
		wb = excelize.NewFile()
	}
	defer wb.Close()

	if idx, _ := wb.GetSheetIndex(sheet); idx >= 0 {
		_ = wb.DeleteSheet(sheet)
	}
	idx, err := wb.NewSheet(sheet)
	if err != nil {
		return fmt.Errorf("new sheet %s: %w", sheet, err)
	}
	wb.SetActiveSheet(idx)
	if sheet != "Sheet1" {
		if i, _ := wb.GetSheetIndex("Sheet1"); i >= 0 && len(wb.GetSheetList()) > 1 {
			_ = wb.DeleteSheet("Sheet1")
		}
	}

	header := make([]any, len(metadataHeader))
	for i, h := range metadataHeader {
		header[i] = h
	}
	if err := wb.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for n, row := range rows {
		line := make([]any, len(row))
		for i, v := range row {
			line[i] = v
		}
		cell, _ := excelize.CoordinatesToCellName(1, n+2)
		if err := wb.SetSheetRow(sheet, cell, &line); err != nil {
			return fmt.Errorf("write row %d: %w", n, err)
		}
	}
	if err := wb.SaveAs(path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}

// ExportKind writes the data dictionary sheet for one kind into the scope's
// workbook at path.
func (e *MetadataExporter) ExportKind(ctx context.Context, path, kind string) error {
	m := e.catalog.Model(kind)
	if m == nil {
		return fmt.Errorf("unknown kind %s", kind)
	}
	if err := e.AppendSheet(ctx, path, m.Name, dictionaryRows(m)); err != nil {
		return err
	}
	e.log.Debug().Str("kind", kind).Str("file", path).Msg("dictionary sheet written")
	return nil
}

// ExportScope writes one dictionary sheet per exportable kind of the scope
// into a single workbook at path.
func (e *MetadataExporter) ExportScope(ctx context.Context, path, scope string) error {
	var participant schema.Participant
	switch scope {
	case schema.ScopeCaregiver:
		participant = schema.Caregiver
	case schema.ScopeChild:
		participant = schema.Child
	default:
		return fmt.Errorf("unknown scope %s", scope)
	}

	for _, kind := range schema.ExportableKinds(e.catalog) {
		if e.catalog.Model(kind).Participant != participant {
			continue
		}
		if err := e.ExportKind(ctx, path, kind); err != nil {
			return err
		}
	}
	e.log.Info().Str("scope", scope).Str("file", path).Msg("metadata workbook written")
	return nil
}
