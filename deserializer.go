package statesync

import (
	"encoding/base64"
	"fmt"
	"maps"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// EventPrefix marks built-in event types. Every such event that carries a
// payload must have a transformer.
const EventPrefix = "ss-"

// Transformer sanitises the payload of one event type and returns the
// value handlers will see. Option-like events are checked against the
// options the target component actually offers.
type Transformer func(ev *Event, eval *Evaluator) (any, error)

// Transformers maps event types, without EventPrefix, to transformers.
type Transformers map[string]Transformer

var builtinTransformers = Transformers{
	"tag-click":            transformTagClick,
	"option-change":        transformOptionChange,
	"options-change":       transformOptionsChange,
	"toggle":               transformToggle,
	"keydown":              transformKeydown,
	"click":                transformClick,
	"hashchange":           transformHashchange,
	"page-open":            transformString,
	"chatbot-message":      transformString,
	"chatbot-action-click": transformString,
	"change":               transformString,
	"change-finish":        transformString,
	"number-change":        transformNumber,
	"number-change-finish": transformNumber,
	"webcam":               transformWebcam,
	"file-change":          transformFileChange,
	"date-change":          transformDate,
	"change-page-size":     transformInt,
	"change-page":          transformInt,
}

// DefaultTransformers returns a copy of the built-in transformers.
func DefaultTransformers() Transformers {
	return maps.Clone(builtinTransformers)
}

// EventDeserializer applies the transformer for an event's type to its
// payload, in place.
type EventDeserializer struct {
	eval         *Evaluator
	transformers Transformers
}

// NewEventDeserializer returns a deserializer using transformers, or the
// built-in set when nil.
func NewEventDeserializer(eval *Evaluator, transformers Transformers) *EventDeserializer {
	if transformers == nil {
		transformers = builtinTransformers
	}
	return &EventDeserializer{eval: eval, transformers: transformers}
}

// Transform replaces ev.Payload with its sanitised form. Events without a
// payload and events outside EventPrefix are left alone. When no
// transformer exists or it fails, the payload is replaced with an empty
// object and an error wrapping ErrValidation is returned.
func (d *EventDeserializer) Transform(ev *Event) error {
	if ev.Payload == nil || !strings.HasPrefix(ev.Type, EventPrefix) {
		return nil
	}
	name := strings.TrimPrefix(ev.Type, EventPrefix)
	tf, ok := d.transformers[name]
	if !ok {
		ev.Payload = NewObject()
		return fmt.Errorf("%w: no payload transformer available for custom event type %q", ErrValidation, ev.Type)
	}
	out, err := tf(ev, d.eval)
	if err != nil {
		ev.Payload = NewObject()
		return fmt.Errorf("%w: payload transformation failed for %q: %v", ErrValidation, ev.Type, err)
	}
	ev.Payload = out
	return nil
}

const defaultOptions = `{ "a": "Option A", "b": "Option B" }`

func evaluateOptions(ev *Event, eval *Evaluator, field, def string) (*Object, error) {
	v, err := eval.EvaluateField(ev.InstancePath, field, true, def)
	if err != nil {
		return nil, err
	}
	options, ok := v.(*Object)
	if !ok {
		return nil, fmt.Errorf("invalid value for %s", field)
	}
	return options, nil
}

func checkOption(options *Object, v any) (string, error) {
	key, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("unauthorised option")
	}
	if _, ok := options.Get(key); !ok {
		return "", fmt.Errorf("unauthorised option %q", key)
	}
	return key, nil
}

func transformTagClick(ev *Event, eval *Evaluator) (any, error) {
	tags, err := evaluateOptions(ev, eval, "tags", "{ }")
	if err != nil {
		return nil, err
	}
	return checkOption(tags, ev.Payload)
}

func transformOptionChange(ev *Event, eval *Evaluator) (any, error) {
	options, err := evaluateOptions(ev, eval, "options", defaultOptions)
	if err != nil {
		return nil, err
	}
	return checkOption(options, ev.Payload)
}

func transformOptionsChange(ev *Event, eval *Evaluator) (any, error) {
	options, err := evaluateOptions(ev, eval, "options", defaultOptions)
	if err != nil {
		return nil, err
	}
	items, ok := ev.Payload.([]any)
	if !ok {
		return nil, fmt.Errorf("invalid multiple options payload, expected a list")
	}
	out := make([]any, len(items))
	for i, item := range items {
		key, err := checkOption(options, item)
		if err != nil {
			return nil, err
		}
		out[i] = key
	}
	return out, nil
}

func transformToggle(ev *Event, _ *Evaluator) (any, error) {
	return truthy(ev.Payload), nil
}

func payloadObject(v any) (*Object, error) {
	obj, ok, err := asMapping(v)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("payload must be an object, got %T", v)
	}
	return obj, nil
}

func objectField(obj *Object, key string) any {
	v, _ := obj.Get(key)
	return v
}

func modifierKeys(obj *Object, out *Object) {
	out.Set("ctrl_key", truthy(objectField(obj, "ctrlKey")))
	out.Set("shift_key", truthy(objectField(obj, "shiftKey")))
	out.Set("meta_key", truthy(objectField(obj, "metaKey")))
}

func transformKeydown(ev *Event, _ *Evaluator) (any, error) {
	obj, err := payloadObject(ev.Payload)
	if err != nil {
		return nil, err
	}
	key, err := stringify(objectField(obj, "key"))
	if err != nil {
		return nil, err
	}
	out := NewObject()
	out.Set("key", key)
	modifierKeys(obj, out)
	return out, nil
}

func transformClick(ev *Event, _ *Evaluator) (any, error) {
	obj, err := payloadObject(ev.Payload)
	if err != nil {
		return nil, err
	}
	out := NewObject()
	modifierKeys(obj, out)
	return out, nil
}

func transformHashchange(ev *Event, _ *Evaluator) (any, error) {
	obj, err := payloadObject(ev.Payload)
	if err != nil {
		return nil, err
	}
	routeVars, err := payloadObject(objectField(obj, "routeVars"))
	if err != nil {
		return nil, fmt.Errorf("routeVars: %w", err)
	}
	out := NewObject()
	out.Set("page_key", objectField(obj, "pageKey"))
	out.Set("route_vars", routeVars)
	return out, nil
}

func transformString(ev *Event, _ *Evaluator) (any, error) {
	return stringify(ev.Payload)
}

// toFloat converts numbers and numeric strings.
func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case int32:
		return float64(x), true
	case int8:
		return float64(x), true
	case int16:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint8:
		return float64(x), true
	case uint16:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	}
	return 0, false
}

// transformNumber yields nil for input that isn't a number.
func transformNumber(ev *Event, _ *Evaluator) (any, error) {
	f, ok := toFloat(ev.Payload)
	if !ok {
		return nil, nil
	}
	return f, nil
}

// transformInt truncates numbers toward zero. Strings must hold an integer.
func transformInt(ev *Event, _ *Evaluator) (any, error) {
	if s, ok := ev.Payload.(string); ok {
		n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return nil, nil
		}
		return n, nil
	}
	f, ok := toFloat(ev.Payload)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, nil
	}
	return int64(f), nil
}

func transformWebcam(ev *Event, _ *Evaluator) (any, error) {
	s, ok := ev.Payload.(string)
	if !ok {
		return nil, fmt.Errorf("webcam payload must be a data URL")
	}
	return DecodeDataURL(s)
}

func transformFileChange(ev *Event, _ *Evaluator) (any, error) {
	items, ok := ev.Payload.([]any)
	if !ok {
		return nil, fmt.Errorf("file payload must be a list")
	}
	out := make([]any, len(items))
	for i, item := range items {
		obj, err := payloadObject(item)
		if err != nil {
			return nil, fmt.Errorf("file %d: %w", i, err)
		}
		raw, ok := objectField(obj, "data").(string)
		if !ok {
			return nil, fmt.Errorf("file %d: no data provided", i)
		}
		data, err := DecodeDataURL(raw)
		if err != nil {
			return nil, fmt.Errorf("file %d: %w", i, err)
		}
		f := NewObject()
		f.Set("name", objectField(obj, "name"))
		f.Set("type", objectField(obj, "type"))
		f.Set("data", data)
		out[i] = f
	}
	return out, nil
}

var dateLayouts = []string{time.DateOnly, "20060102"}

var isoWeekDate = regexp.MustCompile(`^(\d{4})-?W(\d{2})-?([1-7])$`)

// validWeekDate reports whether s is an ISO 8601 week date such as
// 2024-W52-1 or 2024W521 naming a week the year actually has.
func validWeekDate(s string) bool {
	m := isoWeekDate.FindStringSubmatch(s)
	if m == nil {
		return false
	}
	year, _ := strconv.Atoi(m[1])
	week, _ := strconv.Atoi(m[2])
	// Dec 28 always falls in the last ISO week of its year.
	_, weeks := time.Date(year, time.December, 28, 0, 0, 0, 0, time.UTC).ISOWeek()
	return week >= 1 && week <= weeks
}

func transformDate(ev *Event, _ *Evaluator) (any, error) {
	s, ok := ev.Payload.(string)
	if !ok {
		return nil, fmt.Errorf("date must be a string")
	}
	for _, layout := range dateLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return s, nil
		}
	}
	if validWeekDate(s) {
		return s, nil
	}
	return nil, fmt.Errorf("date must be in YYYY-MM-DD format or another valid ISO 8601 format")
}

// DecodeDataURL returns the bytes carried by a data URL. Any other URL
// scheme is refused, so payloads never trigger outbound requests.
func DecodeDataURL(s string) ([]byte, error) {
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return nil, fmt.Errorf("%w: only data URLs are accepted", ErrValidation)
	}
	meta, data, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, fmt.Errorf("%w: malformed data URL", ErrValidation)
	}
	if strings.HasSuffix(meta, ";base64") {
		b, err := base64.StdEncoding.DecodeString(data)
		if err != nil {
			if b, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(data, "=")); err != nil {
				return nil, fmt.Errorf("%w: data URL: %v", ErrValidation, err)
			}
		}
		return b, nil
	}
	unescaped, err := url.PathUnescape(data)
	if err != nil {
		return nil, fmt.Errorf("%w: data URL: %v", ErrValidation, err)
	}
	return []byte(unescaped), nil
}
