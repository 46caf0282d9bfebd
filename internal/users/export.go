package users

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	csvFlushEvery = 200
	csvBufferSize = 32 * 1024
)

var statusCaser = cases.Title(language.English)

type csvStreamer struct {
	buf          *bufio.Writer
	csv          *csv.Writer
	flushEvery   int
	pendingLines int
}

func newCSVStreamer(w io.Writer) *csvStreamer {
	buf := bufio.NewWriterSize(w, csvBufferSize)
	writer := csv.NewWriter(buf)
	writer.UseCRLF = true
	return &csvStreamer{buf: buf, csv: writer, flushEvery: csvFlushEvery}
}

func (s *csvStreamer) writeRow(row []string) error {
	if s == nil || s.csv == nil {
		return fmt.Errorf("csv streamer not initialised")
	}
	if err := s.csv.Write(row); err != nil {
		return err
	}
	s.pendingLines++
	if s.flushEvery > 0 && s.pendingLines >= s.flushEvery {
		return s.flush()
	}
	return nil
}

func (s *csvStreamer) flush() error {
	if s == nil || s.csv == nil || s.buf == nil {
		return fmt.Errorf("csv streamer not initialised")
	}
	s.csv.Flush()
	if err := s.csv.Error(); err != nil {
		return err
	}
	if err := s.buf.Flush(); err != nil {
		return err
	}
	s.pendingLines = 0
	return nil
}

var exportHeader = []string{"ID", "Name", "Email", "Phone", "Status", "Roles", "Effective Level", "Last Login", "Created"}

// export streams the currently filtered, hierarchy-scoped user set as CSV.
func (h *Handler) export(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	rows, err := h.service.ExportRows(r.Context(), actor, listRequestFromQuery(r))
	if err != nil {
		h.fail(w, r, "export users", err)
		return
	}

	filename := "users_" + time.Now().UTC().Format("20060102_150405") + ".csv"
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)

	streamer := newCSVStreamer(w)
	if err := streamer.writeRow(exportHeader); err != nil {
		h.logger.Error("export write header", slog.Any("error", err))
		return
	}
	for _, user := range rows {
		if err := streamer.writeRow(exportRow(user)); err != nil {
			// Headers are gone; all we can do is stop streaming.
			h.logger.Error("export write row", slog.Any("error", err))
			return
		}
	}
	if err := streamer.flush(); err != nil {
		h.logger.Error("export flush", slog.Any("error", err))
	}
}

func exportRow(u User) []string {
	names := make([]string, 0, len(u.Roles))
	for _, role := range u.Roles {
		names = append(names, role.Name)
	}
	lastLogin := ""
	if u.LastLoginAt != nil {
		lastLogin = u.LastLoginAt.UTC().Format(time.RFC3339)
	}
	return []string{
		strconv.FormatInt(u.ID, 10),
		u.Name,
		u.Email,
		u.Phone,
		statusCaser.String(string(u.Status)),
		strings.Join(names, "|"),
		strconv.Itoa(u.EffectiveLevel()),
		lastLogin,
		u.CreatedAt.UTC().Format(time.RFC3339),
	}
}
