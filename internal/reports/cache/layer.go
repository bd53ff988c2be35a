package cache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"carbon-scribe/report-engine/internal/reports"
)

const keyPrefix = "report:"

// Stats returns cache statistics
type Stats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// Layer caches rendered results per report definition on top of a Backend.
// Backend failures are logged and treated as misses.
type Layer struct {
	backend Backend
	logger  *zap.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

// NewLayer creates a cache layer over backend
func NewLayer(backend Backend, logger *zap.Logger) *Layer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Layer{backend: backend, logger: logger}
}

// Backend returns the underlying store
func (l *Layer) Backend() Backend {
	return l.backend
}

// Key derives the cache key for a definition, parameter set and format
func Key(def *reports.ReportDefinition, params map[string]any, format reports.ExportFormat) string {
	code := def.Meta.Code

	if pattern := def.Cache.KeyPattern; pattern != "" {
		pairs := []string{"{code}", code, "{format}", string(format)}
		for name, v := range params {
			pairs = append(pairs, "{"+name+"}", keyPart(v))
		}
		key := strings.NewReplacer(pairs...).Replace(pattern)
		if !strings.Contains(pattern, "{format}") && format != reports.FormatJSON {
			key += ":" + string(format)
		}
		return key
	}

	return Fingerprint(code, params, format)
}

// Fingerprint identifies a generation request by code, format and every
// parameter value. Equal parameter sets give equal fingerprints whatever
// their map order.
func Fingerprint(code string, params map[string]any, format reports.ExportFormat) string {
	var b strings.Builder
	b.WriteString("format=")
	b.WriteString(string(format))
	for _, name := range sortedKeys(params) {
		b.WriteString(";")
		b.WriteString(strconv.Quote(name))
		b.WriteString("=")
		writeCanonical(&b, params[name])
	}
	sum := md5.Sum([]byte(b.String()))
	return keyPrefix + code + ":" + hex.EncodeToString(sum[:])
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// writeCanonical encodes v with its type so that 1, "1" and 1.0 differ.
// Floats use strconv, which also spells out NaN and infinities.
func writeCanonical(b *strings.Builder, v any) {
	switch t := v.(type) {
	case nil:
		b.WriteString("null")
	case string:
		b.WriteString("s:")
		b.WriteString(strconv.Quote(t))
	case bool:
		b.WriteString("b:")
		b.WriteString(strconv.FormatBool(t))
	case int:
		b.WriteString("i:")
		b.WriteString(strconv.FormatInt(int64(t), 10))
	case int64:
		b.WriteString("i:")
		b.WriteString(strconv.FormatInt(t, 10))
	case float32:
		b.WriteString("f:")
		b.WriteString(strconv.FormatFloat(float64(t), 'g', -1, 32))
	case float64:
		b.WriteString("f:")
		b.WriteString(strconv.FormatFloat(t, 'g', -1, 64))
	case time.Time:
		b.WriteString("t:")
		b.WriteString(t.UTC().Format(time.RFC3339Nano))
	case map[string]any:
		b.WriteString("{")
		for i, k := range sortedKeys(t) {
			if i > 0 {
				b.WriteString(",")
			}
			b.WriteString(strconv.Quote(k))
			b.WriteString(":")
			writeCanonical(b, t[k])
		}
		b.WriteString("}")
	case []any:
		b.WriteString("[")
		for i, e := range t {
			if i > 0 {
				b.WriteString(",")
			}
			writeCanonical(b, e)
		}
		b.WriteString("]")
	case []string:
		b.WriteString("[")
		for i, e := range t {
			if i > 0 {
				b.WriteString(",")
			}
			b.WriteString("s:")
			b.WriteString(strconv.Quote(e))
		}
		b.WriteString("]")
	default:
		fmt.Fprintf(b, "%T:%#v", v, v)
	}
}

func keyPart(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case time.Time:
		return t.Format("2006-01-02")
	case string:
		return t
	}
	return fmt.Sprint(v)
}

// Get returns the cached result, or false when caching is disabled for def
// or nothing is stored
func (l *Layer) Get(ctx context.Context, def *reports.ReportDefinition, params map[string]any, format reports.ExportFormat) (*reports.RenderedResult, bool) {
	if def == nil || !def.Cache.Enabled {
		return nil, false
	}
	key := Key(def, params, format)

	v, ok, err := l.backend.Get(ctx, key)
	if err != nil {
		l.logger.Warn("Cache read failed", zap.String("key", key), zap.Error(err))
		ok = false
	}
	if !ok {
		l.misses.Add(1)
		return nil, false
	}

	result, err := decodeResult(v)
	if err != nil {
		l.logger.Warn("Discarding unreadable cache entry", zap.String("key", key), zap.Error(err))
		_ = l.backend.Delete(ctx, key)
		l.misses.Add(1)
		return nil, false
	}
	l.hits.Add(1)
	return result, true
}

// Set stores result under the definition's key and TTL. It is dropped when
// caching is disabled for def.
func (l *Layer) Set(ctx context.Context, def *reports.ReportDefinition, params map[string]any, format reports.ExportFormat, result *reports.RenderedResult) {
	if def == nil || !def.Cache.Enabled || result == nil {
		return
	}
	key := Key(def, params, format)
	if err := l.backend.Set(ctx, key, result, def.Cache.TTL()); err != nil {
		l.logger.Warn("Cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// Invalidate removes every default-keyed entry of one report
func (l *Layer) Invalidate(ctx context.Context, code string) (int, error) {
	n, err := l.backend.Clear(ctx, keyPrefix+code+":*")
	if err != nil {
		return 0, fmt.Errorf("failed to invalidate %s: %w", code, err)
	}
	return n, nil
}

// InvalidateDefinition also clears entries written under a custom
// key_pattern, up to its first parameter placeholder
func (l *Layer) InvalidateDefinition(ctx context.Context, def *reports.ReportDefinition) (int, error) {
	n, err := l.Invalidate(ctx, def.Meta.Code)
	if err != nil {
		return n, err
	}
	if def.Cache.KeyPattern == "" {
		return n, nil
	}

	prefix := strings.ReplaceAll(def.Cache.KeyPattern, "{code}", def.Meta.Code)
	if i := strings.Index(prefix, "{"); i >= 0 {
		prefix = prefix[:i]
	}
	if prefix == "" || strings.HasPrefix(prefix, keyPrefix+def.Meta.Code+":") {
		return n, nil
	}
	m, err := l.backend.Clear(ctx, prefix+"*")
	if err != nil {
		return n, fmt.Errorf("failed to invalidate %s: %w", def.Meta.Code, err)
	}
	return n + m, nil
}

// Clear empties the whole cache
func (l *Layer) Clear(ctx context.Context) (int, error) {
	n, err := l.backend.Clear(ctx, "*")
	if err != nil {
		return 0, fmt.Errorf("failed to clear cache: %w", err)
	}
	return n, nil
}

// Sweep drops expired entries when the backend supports it
func (l *Layer) Sweep() int {
	if s, ok := l.backend.(Sweeper); ok {
		return s.CleanupExpired()
	}
	return 0
}

// Stats returns hit and miss counters
func (l *Layer) Stats() Stats {
	hits, misses := l.hits.Load(), l.misses.Load()
	s := Stats{Hits: hits, Misses: misses}
	if total := hits + misses; total > 0 {
		s.HitRate = float64(hits) / float64(total)
	}
	return s
}

// Entries returns the number of stored entries, or false when the backend
// cannot count them
func (l *Layer) Entries() (int, bool) {
	if s, ok := l.backend.(interface{ Size() int }); ok {
		return s.Size(), true
	}
	return 0, false
}

// ResetStats zeroes the counters
func (l *Layer) ResetStats() {
	l.hits.Store(0)
	l.misses.Store(0)
}

func decodeResult(v any) (*reports.RenderedResult, error) {
	switch t := v.(type) {
	case *reports.RenderedResult:
		return t, nil
	case reports.RenderedResult:
		return &t, nil
	case json.RawMessage:
		var r reports.RenderedResult
		if err := json.Unmarshal(t, &r); err != nil {
			return nil, err
		}
		return &r, nil
	case []byte:
		return decodeResult(json.RawMessage(t))
	}
	return nil, fmt.Errorf("unexpected cached type %T", v)
}
