// Package callback turns gateway notifications of any known shape into a
// canonical domain.Callback.
//
// The gateway nests the interesting part of a notification differently
// depending on API version and environment. The recognized envelopes are
// tried in order, first with exact key matches and then case-insensitively:
//
//	Body.stkCallback
//	body.stkCallback
//	stkCallback
//	<root object>
//
// Metadata fields may sit directly on the envelope or inside
// CallbackMetadata.Item as {Name, Value} pairs; a non-blank direct property
// wins.
package callback

import (
	// Go Internal Packages
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	// Local Packages
	"github.com/scottmaphuma022-wq/nova-lifeguard-portal/internal/domain"

	// External Packages
	"github.com/shopspring/decimal"
)

// Shape identifies which envelope a notification was read from.
type Shape int

const (
	ShapeBodyEnvelope Shape = iota
	ShapeLowerBodyEnvelope
	ShapeBareEnvelope
	ShapeFlat
)

func (s Shape) String() string {
	switch s {
	case ShapeBodyEnvelope:
		return "Body.stkCallback"
	case ShapeLowerBodyEnvelope:
		return "body.stkCallback"
	case ShapeBareEnvelope:
		return "stkCallback"
	}
	return "flat"
}

var ErrNotObject = errors.New("callback payload is not a JSON object")

type envelopePath struct {
	shape Shape
	keys  []string
}

var envelopePaths = []envelopePath{
	{ShapeBodyEnvelope, []string{"Body", "stkCallback"}},
	{ShapeLowerBodyEnvelope, []string{"body", "stkCallback"}},
	{ShapeBareEnvelope, []string{"stkCallback"}},
}

var (
	correlationKeys = []string{"CheckoutRequestID"}
	merchantKeys    = []string{"MerchantRequestID"}
	resultCodeKeys  = []string{"ResultCode", "resultCode", "Result"}
	resultDescKeys  = []string{"ResultDesc", "ResultDescription"}
)

const (
	metaAmount  = "Amount"
	metaReceipt = "MpesaReceiptNumber"
	metaPhone   = "PhoneNumber"
	metaDate    = "TransactionDate"
)

// Normalize parses raw into a canonical callback. It fails only when raw is
// not a JSON object; absent fields come back as nil/zero values and a
// missing result code as domain.ResultCodeUnknown.
func Normalize(raw []byte) (*domain.Callback, Shape, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var root any
	if err := dec.Decode(&root); err != nil {
		return nil, ShapeFlat, fmt.Errorf("decode callback: %w", err)
	}
	obj, ok := root.(map[string]any)
	if !ok {
		return nil, ShapeFlat, ErrNotObject
	}

	env, shape := envelope(obj)

	cb := &domain.Callback{
		ResultCode: domain.ResultCodeUnknown,
		Raw:        append([]byte(nil), raw...),
	}
	if v, ok := field(env, correlationKeys...); ok {
		cb.CorrelationID = optString(v)
	}
	if v, ok := field(env, merchantKeys...); ok {
		cb.MerchantRequestID = optString(v)
	}
	if v, ok := field(env, resultCodeKeys...); ok {
		if code, ok := asInt(v); ok {
			cb.ResultCode = code
		}
	}
	if v, ok := field(env, resultDescKeys...); ok {
		if s, ok := asString(v); ok {
			cb.ResultDescription = s
		}
	}
	if v, ok := metadata(env, metaAmount); ok {
		cb.Amount = asDecimal(v)
	}
	if v, ok := metadata(env, metaReceipt); ok {
		cb.ReceiptNumber = optString(v)
	}
	if v, ok := metadata(env, metaPhone); ok {
		cb.PhoneNumber = optString(v)
	}
	if v, ok := metadata(env, metaDate); ok {
		cb.TransactionDate = ParseTransactionDate(v)
	}
	return cb, shape, nil
}

// envelope walks the known paths, exact keys first, then case-insensitive.
func envelope(root map[string]any) (map[string]any, Shape) {
	for _, fold := range []bool{false, true} {
		for _, p := range envelopePaths {
			if env, ok := walk(root, p.keys, fold); ok {
				return env, p.shape
			}
		}
	}
	return root, ShapeFlat
}

func walk(obj map[string]any, keys []string, fold bool) (map[string]any, bool) {
	cur := obj
	for _, k := range keys {
		v, ok := lookup(cur, k, fold)
		if !ok {
			return nil, false
		}
		next, ok := v.(map[string]any)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// field returns the first non-null value among keys, trying exact matches
// for all keys before falling back to case-insensitive ones.
func field(obj map[string]any, keys ...string) (any, bool) {
	for _, fold := range []bool{false, true} {
		for _, k := range keys {
			if v, ok := lookup(obj, k, fold); ok && v != nil {
				return v, true
			}
		}
	}
	return nil, false
}

func lookup(obj map[string]any, key string, fold bool) (any, bool) {
	if !fold {
		v, ok := obj[key]
		return v, ok
	}
	var matches []string
	for k := range obj {
		if strings.EqualFold(k, key) {
			matches = append(matches, k)
		}
	}
	if len(matches) == 0 {
		return nil, false
	}
	sort.Strings(matches)
	return obj[matches[0]], true
}

// metadata treats blank or non-scalar values as absent so that an empty
// direct property does not hide a populated item.
func metadata(env map[string]any, name string) (any, bool) {
	if v, ok := field(env, name); ok && usable(v) {
		return v, true
	}
	for _, item := range metadataItems(env) {
		n, ok := field(item, "Name")
		if !ok {
			continue
		}
		if s, ok := asString(n); !ok || !strings.EqualFold(s, name) {
			continue
		}
		if v, ok := field(item, "Value"); ok && usable(v) {
			return v, true
		}
	}
	return nil, false
}

func usable(v any) bool {
	_, ok := asString(v)
	return ok
}

func metadataItems(env map[string]any) []map[string]any {
	md, ok := field(env, "CallbackMetadata")
	if !ok {
		return nil
	}
	mdObj, ok := md.(map[string]any)
	if !ok {
		return nil
	}
	raw, ok := field(mdObj, "Item")
	if !ok {
		return nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	items := make([]map[string]any, 0, len(list))
	for _, el := range list {
		if item, ok := el.(map[string]any); ok {
			items = append(items, item)
		}
	}
	return items
}

func asString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		return s, s != ""
	case json.Number:
		return t.String(), true
	}
	return "", false
}

func optString(v any) *string {
	s, ok := asString(v)
	if !ok {
		return nil
	}
	return &s
}

func asInt(v any) (int, bool) {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return int(n), true
		}
		if f, err := t.Float64(); err == nil && f == float64(int64(f)) {
			return int(f), true
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(t)); err == nil {
			return n, true
		}
	}
	return 0, false
}

func asDecimal(v any) decimal.Decimal {
	s, ok := asString(v)
	if !ok {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

const compactDateLayout = "20060102150405"

var fallbackDateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseTransactionDate reads the gateway's fixed-width YYYYMMDDHHmmss value
// as UTC, falls back to common timestamp layouts, and returns nil when
// nothing fits.
func ParseTransactionDate(v any) *time.Time {
	s, ok := asString(v)
	if !ok {
		return nil
	}
	if len(s) == len(compactDateLayout) && isDigits(s) {
		t, err := time.ParseInLocation(compactDateLayout, s, time.UTC)
		if err != nil {
			return nil
		}
		return &t
	}
	for _, layout := range fallbackDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
