package shares

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	coreerrors "github.com/adalundhe/coornet/core/errors"
)

const loadOp = "load_shares"

// columnAliases maps each canonical column to the header names accepted for it.
// The second group of names matches the CrowdTangle links export.
var columnAliases = map[string][]string{
	"id":               {"id"},
	"date":             {"date"},
	"expanded_url":     {"expanded_url", "expanded"},
	"account_id":       {"account_id", "account_url"},
	"display_name":     {"display_name", "account_name"},
	"handle":           {"handle", "account_handle"},
	"platform":         {"platform", "account_platform"},
	"subscriber_count": {"subscriber_count", "account_subscriberCount"},
	"verified":         {"verified", "account_verified"},
	"account_type":     {"account_type", "account_accountType"},
	"top_country":      {"top_country", "account_pageAdminTopCountry"},
	"is_orig":          {"is_orig"},
	"likes":            {"likes", "statistics_actual_likeCount"},
	"shares":           {"shares", "statistics_actual_shareCount"},
	"comments":         {"comments", "statistics_actual_commentCount"},
	"loves":            {"loves", "statistics_actual_loveCount"},
	"wows":             {"wows", "statistics_actual_wowCount"},
	"hahas":            {"hahas", "statistics_actual_hahaCount"},
	"sads":             {"sads", "statistics_actual_sadCount"},
	"angrys":           {"angrys", "statistics_actual_angryCount"},
}

var requiredColumns = []string{"id", "date", "expanded_url", "account_id"}

var dateLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// LoadFile reads a Shares Table from a .csv or .json file.
func LoadFile(path string, logger *slog.Logger) (Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open shares: %w", err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return ReadJSON(f, logger)
	default:
		return ReadCSV(f, logger)
	}
}

// ReadCSV parses a headered CSV. A missing required column is a schema
// error; a row with an unparseable date is skipped.
func ReadCSV(r io.Reader, logger *slog.Logger) (Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, coreerrors.Schema(loadOp, "header", "read header: %v", err)
	}
	columns, err := resolveColumns(header)
	if err != nil {
		return nil, err
	}

	var table Table
	skipped := 0
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read shares line %d: %w", line, err)
		}
		fields := make(map[string]string, len(columns))
		for name, idx := range columns {
			if idx < len(rec) {
				fields[name] = rec[idx]
			}
		}
		s, err := fromFields(fields)
		if err != nil {
			skipped++
			logger.Debug("skipping malformed share row", slog.Int("line", line), slog.String("error", err.Error()))
			continue
		}
		table = append(table, s)
	}
	if skipped > 0 {
		logger.Warn("skipped malformed share rows", slog.Int("skipped", skipped))
	}
	return table, nil
}

// ReadJSON parses an array of objects keyed by the same column names as ReadCSV.
func ReadJSON(r io.Reader, logger *slog.Logger) (Table, error) {
	var raw []map[string]any
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, coreerrors.Schema(loadOp, "document", "decode json: %v", err)
	}

	keys := make(map[string]struct{})
	for _, obj := range raw {
		for k := range obj {
			keys[k] = struct{}{}
		}
	}
	header := make([]string, 0, len(keys))
	for k := range keys {
		header = append(header, k)
	}
	if len(raw) > 0 {
		if _, err := resolveColumns(header); err != nil {
			return nil, err
		}
	}

	var table Table
	skipped := 0
	for i, obj := range raw {
		fields := make(map[string]string, len(obj))
		for canonical, aliases := range columnAliases {
			for _, alias := range aliases {
				if v, ok := obj[alias]; ok && v != nil {
					fields[canonical] = stringify(v)
					break
				}
			}
		}
		s, err := fromFields(fields)
		if err != nil {
			skipped++
			logger.Debug("skipping malformed share object", slog.Int("index", i), slog.String("error", err.Error()))
			continue
		}
		table = append(table, s)
	}
	if skipped > 0 {
		logger.Warn("skipped malformed share objects", slog.Int("skipped", skipped))
	}
	return table, nil
}

func resolveColumns(header []string) (map[string]int, error) {
	position := make(map[string]int, len(header))
	for i, h := range header {
		position[strings.TrimSpace(h)] = i
	}

	columns := make(map[string]int)
	for canonical, aliases := range columnAliases {
		for _, alias := range aliases {
			if idx, ok := position[alias]; ok {
				columns[canonical] = idx
				break
			}
		}
	}
	for _, req := range requiredColumns {
		if _, ok := columns[req]; !ok {
			return nil, coreerrors.Schema(loadOp, req, "required column missing")
		}
	}
	return columns, nil
}

func fromFields(f map[string]string) (Share, error) {
	date, err := ParseDate(f["date"])
	if err != nil {
		return Share{}, err
	}
	s := Share{
		ID:          strings.TrimSpace(f["id"]),
		Date:        date,
		ExpandedURL: strings.TrimSpace(f["expanded_url"]),
		AccountID:   strings.TrimSpace(f["account_id"]),
		DisplayName: f["display_name"],
		Handle:      f["handle"],
		Platform:    f["platform"],
		AccountType: f["account_type"],
		TopCountry:  f["top_country"],
		Verified:    parseBool(f["verified"]),
		IsOrig:      parseBool(f["is_orig"]),
	}
	s.SubscriberCount, _ = strconv.ParseFloat(strings.TrimSpace(f["subscriber_count"]), 64)
	s.Engagement = Engagement{
		Likes:    parseCount(f["likes"]),
		Shares:   parseCount(f["shares"]),
		Comments: parseCount(f["comments"]),
		Loves:    parseCount(f["loves"]),
		Wows:     parseCount(f["wows"]),
		Hahas:    parseCount(f["hahas"]),
		Sads:     parseCount(f["sads"]),
		Angrys:   parseCount(f["angrys"]),
	}
	return s, nil
}

// ParseDate accepts the common export layouts and bare unix seconds.
// Timestamps are timezone-naive and interpreted as UTC.
func ParseDate(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, v, time.UTC); err == nil {
			return t.Truncate(time.Second), nil
		}
	}
	if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", v)
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "t", "yes", "y":
		return true
	}
	return false
}

func parseCount(v string) int64 {
	v = strings.TrimSpace(v)
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return int64(f)
	}
	return 0
}

func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}
