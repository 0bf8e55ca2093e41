package logger

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"
)

type logFormat string

const (
	formatJSON logFormat = "json"
	formatKV   logFormat = "kv"

	timeFormatMillis = "2006-01-02T15:04:05.000Z07:00"
)

type handlerConfig struct {
	level    slog.Leveler
	writer   *asyncWriter
	format   logFormat
	keyOrder []string
}

// structuredHandler renders one flat line per record, with the keys in
// keyOrder first and the rest sorted.
type structuredHandler struct {
	cfg    handlerConfig
	attrs  []slog.Attr
	prefix string
}

func newStructuredHandler(cfg handlerConfig) *structuredHandler {
	if cfg.level == nil {
		cfg.level = slog.LevelInfo
	}
	if cfg.keyOrder == nil {
		cfg.keyOrder = slices.Clone(defaultKeyOrder)
	}
	return &structuredHandler{cfg: cfg}
}

func (h *structuredHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.cfg.level.Level()
}

func (h *structuredHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.cfg.writer == nil {
		return errors.New("logger: writer not initialized")
	}

	fields := make(map[string]any, 16)
	fields["ts"] = r.Time.UTC().Truncate(time.Millisecond).Format(timeFormatMillis)
	fields["level"] = normalizeLevel(r.Level.String())

	// h.attrs already carry the group prefix that was open when they were added.
	for _, a := range h.attrs {
		put(fields, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		put(fields, h.prefix, a)
		return true
	})
	addContextFields(ctx, fields)

	if rid, ok := stringField(fields, "rid"); ok && rid != "" {
		if compact := CompactRID(rid); compact != "" {
			fields["rid"] = compact
		}
	}
	if event, _ := stringField(fields, "event"); event == "" {
		fields["event"] = cmp.Or(r.Message, "unknown")
	}
	if component, _ := stringField(fields, "component"); component == "" {
		fields["component"] = "app"
	}

	redact(fields)
	sanitizeEnumerations(fields)
	pruneEmpty(fields)

	line, err := h.render(fields)
	if err != nil {
		return err
	}
	return h.cfg.writer.Write(append(line, '\n'))
}

func (h *structuredHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	for _, a := range attrs {
		if h.prefix != "" {
			a = slog.Attr{Key: h.prefix, Value: slog.GroupValue(a)}
		}
		clone.attrs = append(slices.Clip(clone.attrs), a)
	}
	return &clone
}

func (h *structuredHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.prefix = joinKey(h.prefix, name)
	return &clone
}

func put(fields map[string]any, prefix string, a slog.Attr) {
	walkAttr(prefix, a, func(key string, v slog.Value) {
		if key == "" {
			return
		}
		if k, val, ok := normalizeAttr(key, v); ok {
			fields[k] = val
		}
	})
}

func (h *structuredHandler) render(fields map[string]any) ([]byte, error) {
	keys := orderedKeys(fields, h.cfg.keyOrder)
	var b strings.Builder
	if h.cfg.format != formatJSON {
		for i, key := range keys {
			if i > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(key)
			b.WriteByte('=')
			b.WriteString(formatValueKV(fields[key]))
		}
		return []byte(b.String()), nil
	}
	b.WriteByte('{')
	for i, key := range keys {
		data, err := json.Marshal(fields[key])
		if err != nil {
			return nil, fmt.Errorf("logger: encode %s: %w", key, err)
		}
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Quote(key))
		b.WriteByte(':')
		b.Write(data)
	}
	b.WriteByte('}')
	return []byte(b.String()), nil
}

// walkAttr flattens groups into dotted keys. A group with an empty key
// inlines its members.
func walkAttr(prefix string, a slog.Attr, fn func(string, slog.Value)) {
	v := a.Value.Resolve()
	if v.Kind() != slog.KindGroup {
		if a.Key != "" {
			fn(joinKey(prefix, a.Key), v)
		}
		return
	}
	next := prefix
	if a.Key != "" {
		next = joinKey(prefix, a.Key)
	}
	for _, child := range v.Group() {
		walkAttr(next, child, fn)
	}
}

func joinKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

func normalizeAttr(key string, val slog.Value) (string, any, bool) {
	switch val.Kind() {
	case slog.KindString:
		return key, strings.TrimSpace(val.String()), true
	case slog.KindBool:
		return key, val.Bool(), true
	case slog.KindInt64:
		return key, val.Int64(), true
	case slog.KindUint64:
		if u := val.Uint64(); u <= math.MaxInt64 {
			return key, int64(u), true
		}
		return key, val.Uint64(), true
	case slog.KindFloat64:
		return key, val.Float64(), true
	case slog.KindDuration:
		return durationKey(key), RoundMS(val.Duration()).Milliseconds(), true
	case slog.KindTime:
		return key, val.Time().UTC().Format(time.RFC3339Nano), true
	}
	switch x := val.Any().(type) {
	case nil:
		return key, nil, false
	case error:
		return key, x.Error(), true
	case string:
		return key, strings.TrimSpace(x), true
	case time.Duration:
		return durationKey(key), RoundMS(x).Milliseconds(), true
	case fmt.Stringer:
		return key, x.String(), true
	default:
		return key, fmt.Sprint(x), true
	}
}

// durationKey renames duration attributes so the unit is part of the key.
func durationKey(key string) string {
	switch {
	case key == "duration":
		return "duration_ms"
	case strings.HasSuffix(key, "_duration"):
		return strings.TrimSuffix(key, "_duration") + "_duration_ms"
	case !strings.HasSuffix(key, "_ms"):
		return key + "_ms"
	}
	return key
}

// Keys whose values must never reach the log sink as given.
var (
	phoneKeys  = []string{"phone", "msisdn", "phone_number"}
	secretKeys = []string{"token", "secret", "secret_token", "authorization", "password", "api_key"}
)

func redact(fields map[string]any) {
	for key, v := range fields {
		leaf := key[strings.LastIndexByte(key, '.')+1:]
		switch {
		case slices.Contains(secretKeys, leaf):
			fields[key] = "[redacted]"
		case slices.Contains(phoneKeys, leaf):
			if s, ok := v.(string); ok {
				fields[key] = MaskPhone(s)
			}
		}
	}
}

func sanitizeEnumerations(fields map[string]any) {
	if s, ok := stringField(fields, "status"); ok && s != "" {
		normalized, _ := normalizeStatus(s)
		fields["status"] = normalized
	}
	if o, ok := stringField(fields, "outcome"); ok && o != "" {
		if normalized, valid := normalizeOutcome(o); valid {
			fields["outcome"] = normalized
		} else {
			delete(fields, "outcome")
		}
	}
}

func pruneEmpty(fields map[string]any) {
	for k, v := range fields {
		if v == nil {
			delete(fields, k)
			continue
		}
		if s, ok := v.(string); ok && s == "" {
			delete(fields, k)
		}
	}
}

func orderedKeys(fields map[string]any, order []string) []string {
	keys := make([]string, 0, len(fields))
	for _, key := range order {
		if _, ok := fields[key]; ok {
			keys = append(keys, key)
		}
	}
	fixed := len(keys)
	for key := range fields {
		if !slices.Contains(keys[:fixed], key) {
			keys = append(keys, key)
		}
	}
	slices.Sort(keys[fixed:])
	return keys
}

func formatValueKV(val any) string {
	var s string
	switch v := val.(type) {
	case string:
		s = v
	case bool:
		return strconv.FormatBool(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		s = fmt.Sprint(v)
	}
	if strings.IndexFunc(s, needsQuote) >= 0 {
		return strconv.Quote(s)
	}
	return s
}

func needsQuote(r rune) bool {
	return r <= ' ' || r == '=' || r == '"'
}

func stringField(fields map[string]any, key string) (string, bool) {
	v, ok := fields[key]
	if !ok {
		return "", false
	}
	if s, ok := v.(string); ok {
		return s, true
	}
	return fmt.Sprint(v), true
}

// addContextFields copies request metadata from ctx unless the record
// already carries the key.
func addContextFields(ctx context.Context, fields map[string]any) {
	if ctx == nil {
		return
	}
	setIfAbsent := func(key string, v any, present bool) {
		if !present {
			return
		}
		if _, ok := fields[key]; !ok {
			fields[key] = v
		}
	}
	rid, ref := RIDFrom(ctx), ReferenceFrom(ctx)
	uid, updateID, cid := UserIDFrom(ctx), UpdateIDFrom(ctx), ChatIDFrom(ctx)
	hid := HandlerFrom(ctx)
	setIfAbsent("rid", rid, rid != "")
	setIfAbsent("reference", ref, ref != "")
	setIfAbsent("user_id", uid, uid != 0)
	setIfAbsent("update_id", updateID, updateID != 0)
	setIfAbsent("chat_id", cid, cid != 0)
	setIfAbsent("handler", hid, hid != "")
}
