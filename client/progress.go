package client

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/Nexora-Open-Source/site-version-jobs/types"
)

// Progress responses are loosely typed: keys arrive in PascalCase, camelCase or
// snake_case, counters may be numbers or numeric strings, and some services wrap
// the whole document as a JSON string under "value".
var (
	statusKeys    = []string{"status", "jobstatus", "state"}
	errorKeys     = []string{"errormessage", "error", "message"}
	processedKeys = []string{"versionsprocessed", "processedcount", "itemsprocessed"}
	deletedKeys   = []string{"versionsdeleted", "deletedcount", "itemsdeleted"}
	failedKeys    = []string{"versionsfailed", "failedcount", "itemsfailed"}
	releasedKeys  = []string{"storagereleasedbytes", "storagereleased", "releasedbytes"}
)

// ParseProgress converts a progress document into RawProgress. Counters that are
// absent or not numeric stay nil. The status is passed through verbatim; a
// missing or null status comes back empty and normalizes to unknown. Only an
// undecodable document is an error.
func ParseProgress(body []byte) (types.RawProgress, error) {
	fields, err := decodeObject(body)
	if err != nil {
		return types.RawProgress{}, err
	}

	if inner, ok := lookup(fields, "value").(string); ok {
		if nested, err := decodeObject([]byte(inner)); err == nil {
			fields = nested
		}
	}

	progress := types.RawProgress{
		VersionsProcessed:    intField(fields, processedKeys),
		VersionsDeleted:      intField(fields, deletedKeys),
		VersionsFailed:       intField(fields, failedKeys),
		StorageReleasedBytes: intField(fields, releasedKeys),
	}
	if status, ok := lookupAny(fields, statusKeys); ok {
		progress.Status = stringValue(status)
	}
	if msg, ok := lookupAny(fields, errorKeys); ok {
		progress.ErrorMessage = stringValue(msg)
	}
	return progress, nil
}

func decodeObject(body []byte) (map[string]interface{}, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, errors.New("empty progress document")
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var raw map[string]interface{}
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("malformed progress document: %w", err)
	}

	fields := make(map[string]interface{}, len(raw))
	for k, v := range raw {
		fields[normalizeKey(k)] = v
	}
	return fields, nil
}

func normalizeKey(k string) string {
	k = strings.ToLower(k)
	return strings.NewReplacer("_", "", "-", "", " ", "").Replace(k)
}

func lookup(fields map[string]interface{}, key string) interface{} {
	return fields[key]
}

func lookupAny(fields map[string]interface{}, keys []string) (interface{}, bool) {
	for _, k := range keys {
		if v, ok := fields[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func stringValue(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

func intField(fields map[string]interface{}, keys []string) *int64 {
	v, ok := lookupAny(fields, keys)
	if !ok {
		return nil
	}

	var s string
	switch t := v.(type) {
	case json.Number:
		s = t.String()
	case string:
		s = strings.ReplaceAll(strings.TrimSpace(t), ",", "")
	default:
		return nil
	}

	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return &n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		if math.IsNaN(f) || f < math.MinInt64 || f >= math.MaxInt64 {
			return nil
		}
		n := int64(f)
		return &n
	}
	return nil
}
