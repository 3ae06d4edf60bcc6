// Package logs implements session log retrieval, filtering, formatted
// download, and summary statistics, mirroring
// bunsui.core.logging.service.LogService.
package logs

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bunsuihq/bunsui/internal/bunsuierr"
	"github.com/bunsuihq/bunsui/internal/session"
	"github.com/bunsuihq/bunsui/internal/store/object"
)

// Format is a log download output format.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatCSV  Format = "csv"
)

// Entry is one parsed log line. Raw carries the original decoded JSON
// object so a download in JSON format can round-trip fields this struct
// doesn't model explicitly.
type Entry struct {
	Timestamp time.Time
	Level     string
	Message   string
	Logger    string
	PID       int
	Hostname  string
	Context   map[string]any
	Raw       map[string]any
}

// entryFromJSONLine parses one structured log line, falling back to a
// synthetic ERROR entry carrying the parse failure when the line isn't
// valid JSON. Mirrors LogEntry.from_json_line.
func entryFromJSONLine(line string) Entry {
	var raw map[string]any
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return Entry{
			Timestamp: time.Now().UTC(),
			Level:     "ERROR",
			Message:   fmt.Sprintf("failed to parse log entry: %s", line),
			Logger:    "log_parser",
			Hostname:  "unknown",
			Context:   map[string]any{"parse_error": err.Error()},
			Raw:       map[string]any{},
		}
	}

	ts := time.Now().UTC()
	if s, ok := raw["timestamp"].(string); ok && s != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, s); err == nil {
			ts = parsed
		}
	}

	level := "INFO"
	if s, ok := raw["level"].(string); ok && s != "" {
		level = s
	}
	message, _ := raw["message"].(string)
	logger := "unknown"
	if s, ok := raw["logger"].(string); ok && s != "" {
		logger = s
	}
	hostname := "unknown"
	if s, ok := raw["hostname"].(string); ok && s != "" {
		hostname = s
	}
	pid := 0
	if f, ok := raw["pid"].(float64); ok {
		pid = int(f)
	}
	context, _ := raw["context"].(map[string]any)

	return Entry{
		Timestamp: ts,
		Level:     level,
		Message:   message,
		Logger:    logger,
		PID:       pid,
		Hostname:  hostname,
		Context:   context,
		Raw:       raw,
	}
}

// Filter narrows a log query. A zero Filter matches everything.
type Filter struct {
	Level         string
	Since, Until  *time.Time
	Pattern       string
	CaseSensitive bool
	JobID         string
	PipelineID    string
}

func (f Filter) apply(entries []Entry) ([]Entry, error) {
	out := entries
	if f.Level != "" {
		out = filterEntries(out, func(e Entry) bool { return e.Level == f.Level })
	}
	if f.Since != nil {
		since := *f.Since
		out = filterEntries(out, func(e Entry) bool { return !e.Timestamp.Before(since) })
	}
	if f.Until != nil {
		until := *f.Until
		out = filterEntries(out, func(e Entry) bool { return !e.Timestamp.After(until) })
	}
	if f.Pattern != "" {
		pattern := f.Pattern
		if !f.CaseSensitive {
			pattern = "(?i)" + pattern
		}
		re, err := regexp.Compile(pattern)
		if err == nil {
			out = filterEntries(out, func(e Entry) bool { return re.MatchString(e.Message) })
		}
		// an invalid pattern is skipped rather than failing the query, matching
		// get_session_logs swallowing re.error.
	}
	if f.JobID != "" {
		out = filterEntries(out, func(e Entry) bool { return contextString(e, "job_id") == f.JobID })
	}
	if f.PipelineID != "" {
		out = filterEntries(out, func(e Entry) bool { return contextString(e, "pipeline_id") == f.PipelineID })
	}
	return out, nil
}

func contextString(e Entry, key string) string {
	if e.Context == nil {
		return ""
	}
	s, _ := e.Context[key].(string)
	return s
}

func filterEntries(entries []Entry, keep func(Entry) bool) []Entry {
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}

// JobLogStats is the per-job entry above in Summary.Jobs.
type JobLogStats struct {
	Entries int
	Errors  int
}

// Summary is the log_summary response: per-level counts, per-job counts,
// and the overall time range.
type Summary struct {
	SessionID    string
	TotalEntries int
	Levels       map[string]int
	Jobs         map[string]JobLogStats
	FirstEntry   *time.Time
	LastEntry    *time.Time
}

// Service retrieves, filters, formats, and summarizes session logs stored
// in the object store, validating the session exists via the session
// manager first.
type Service struct {
	objects  object.Store
	sessions *session.Manager
}

func NewService(objects object.Store, sessions *session.Manager) *Service {
	return &Service{objects: objects, sessions: sessions}
}

// SessionLogs returns a session's log entries, filtered and sorted by
// timestamp, optionally capped to the most recent limit entries. Mirrors
// get_session_logs.
func (s *Service) SessionLogs(ctx context.Context, sessionID string, filter *Filter, limit int) ([]Entry, error) {
	if _, err := s.sessions.GetSession(ctx, sessionID); err != nil {
		return nil, bunsuierr.Wrap(bunsuierr.Validation, "logs", "get_session_logs", err)
	}

	keys, err := s.objects.List(ctx, object.SessionLogPrefix(sessionID))
	if err != nil {
		return nil, err
	}

	var entries []Entry
	for _, key := range keys {
		fileEntries, err := s.readLogFile(ctx, key)
		if err != nil {
			continue // a missing or unreadable batch is skipped, not fatal
		}
		entries = append(entries, fileEntries...)
	}

	if filter != nil {
		entries, err = filter.apply(entries)
		if err != nil {
			return nil, err
		}
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Timestamp.Before(entries[j].Timestamp) })

	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries, nil
}

func (s *Service) readLogFile(ctx context.Context, key string) ([]Entry, error) {
	body, err := s.objects.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var entries []Entry
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		entries = append(entries, entryFromJSONLine(line))
	}
	return entries, scanner.Err()
}

// tailPollInterval is the coarse interval TailSessionLogs polls the object
// store at; sub-second tailing is out of scope, matching the object
// store's batch-file write pattern rather than a push notification.
var tailPollInterval = 5 * time.Second

// TailSessionLogs mirrors tail_session_logs's lazy sequence: it returns the
// last initialLines entries immediately, then polls the object store at
// tailPollInterval and delivers newly-visible entries (anything with a
// timestamp after the last one already seen) on the returned channel. The
// channel is closed once ctx is done; the caller must drain or cancel ctx
// to stop the polling goroutine.
func (s *Service) TailSessionLogs(ctx context.Context, sessionID string, filter *Filter, initialLines int) ([]Entry, <-chan Entry, error) {
	if initialLines <= 0 {
		initialLines = 50
	}
	initial, err := s.SessionLogs(ctx, sessionID, filter, initialLines)
	if err != nil {
		return nil, nil, err
	}

	var last time.Time
	if len(initial) > 0 {
		last = initial[len(initial)-1].Timestamp
	}

	out := make(chan Entry)
	go func() {
		defer close(out)
		ticker := time.NewTicker(tailPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				entries, err := s.SessionLogs(ctx, sessionID, filter, 0)
				if err != nil {
					continue // a transient read failure is skipped, retried next tick
				}
				for _, e := range entries {
					if !e.Timestamp.After(last) {
						continue
					}
					select {
					case out <- e:
						last = e.Timestamp
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return initial, out, nil
}

// DownloadSessionLogs renders a session's filtered logs in the requested
// format. Mirrors download_session_logs.
func (s *Service) DownloadSessionLogs(ctx context.Context, sessionID string, format Format, filter *Filter) (string, error) {
	entries, err := s.SessionLogs(ctx, sessionID, filter, 0)
	if err != nil {
		return "", err
	}

	switch format {
	case FormatJSON:
		raws := make([]map[string]any, len(entries))
		for i, e := range entries {
			raws[i] = e.Raw
		}
		body, err := json.MarshalIndent(raws, "", "  ")
		if err != nil {
			return "", err
		}
		return string(body), nil

	case FormatYAML:
		raws := make([]map[string]any, len(entries))
		for i, e := range entries {
			raws[i] = e.Raw
		}
		body, err := yaml.Marshal(raws)
		if err != nil {
			return "", err
		}
		return string(body), nil

	case FormatCSV:
		return entriesToCSV(entries)

	default: // FormatText
		var b strings.Builder
		for i, e := range entries {
			if i > 0 {
				b.WriteByte('\n')
			}
			fmt.Fprintf(&b, "%s %s - %s", e.Level, e.Timestamp.Format("2006-01-02 15:04:05"), e.Message)
		}
		return b.String(), nil
	}
}

func entriesToCSV(entries []Entry) (string, error) {
	var b strings.Builder
	if len(entries) == 0 {
		return "", nil
	}

	fields := []string{"timestamp", "level", "message", "logger", "pid", "hostname"}
	contextFields := map[string]bool{}
	for _, e := range entries {
		for k := range e.Context {
			contextFields[k] = true
		}
	}
	extra := make([]string, 0, len(contextFields))
	for k := range contextFields {
		extra = append(extra, k)
	}
	sort.Strings(extra)
	fields = append(fields, extra...)

	w := csv.NewWriter(&b)
	if err := w.Write(fields); err != nil {
		return "", err
	}
	for _, e := range entries {
		row := []string{
			e.Timestamp.Format(time.RFC3339),
			e.Level,
			e.Message,
			e.Logger,
			strconv.Itoa(e.PID),
			e.Hostname,
		}
		for _, k := range extra {
			row = append(row, fmt.Sprint(e.Context[k]))
		}
		if err := w.Write(row); err != nil {
			return "", err
		}
	}
	w.Flush()
	return b.String(), w.Error()
}

// Summary computes per-level, per-job, and time-range statistics across a
// session's logs. Mirrors get_log_summary.
func (s *Service) Summary(ctx context.Context, sessionID string) (Summary, error) {
	entries, err := s.SessionLogs(ctx, sessionID, nil, 0)
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{
		SessionID:    sessionID,
		TotalEntries: len(entries),
		Levels:       map[string]int{},
		Jobs:         map[string]JobLogStats{},
	}

	for _, e := range entries {
		summary.Levels[e.Level]++

		jobID := contextString(e, "job_id")
		if jobID == "" {
			jobID = "unknown"
		}
		stats := summary.Jobs[jobID]
		stats.Entries++
		if e.Level == "ERROR" || e.Level == "CRITICAL" {
			stats.Errors++
		}
		summary.Jobs[jobID] = stats

		ts := e.Timestamp
		if summary.FirstEntry == nil || ts.Before(*summary.FirstEntry) {
			summary.FirstEntry = &ts
		}
		if summary.LastEntry == nil || ts.After(*summary.LastEntry) {
			summary.LastEntry = &ts
		}
	}

	return summary, nil
}
