package mpesa

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"payrelay/internal/domain/outcome"
)

// Variant selects the callback shape Normalize expects.
type Variant int

const (
	// PushResult is the STK push callback: Body.stkCallback with Name/Value metadata.
	PushResult Variant = iota
	// DisbursementResult is the B2C result or timeout callback: Result with Key/Value parameters.
	DisbursementResult
)

func (v Variant) String() string {
	switch v {
	case PushResult:
		return "push_result"
	case DisbursementResult:
		return "disbursement_result"
	default:
		return "unknown"
	}
}

// Normalize maps a Daraja callback body onto a PaymentOutcome. It never fails:
// whatever cannot be read is left empty and listed in Issues, and a missing or
// unreadable result code becomes outcome.UnknownResultCode.
func Normalize(raw []byte, variant Variant) outcome.PaymentOutcome {
	o := outcome.PaymentOutcome{
		ResultCode:  outcome.UnknownResultCode,
		RawMetadata: map[string]any{},
	}

	root, err := decodeObject(raw)
	if err != nil {
		o.Issues = append(o.Issues, "invalid JSON: "+err.Error())
		return o
	}

	switch variant {
	case PushResult:
		normalizePush(&o, root)
	case DisbursementResult:
		normalizeDisbursement(&o, root)
	default:
		o.Issues = append(o.Issues, "unknown callback variant "+variant.String())
	}
	return o
}

func normalizePush(o *outcome.PaymentOutcome, root map[string]any) {
	body, _ := root["Body"].(map[string]any)
	cb, ok := body["stkCallback"].(map[string]any)
	if !ok {
		o.Issues = append(o.Issues, "missing Body.stkCallback")
		return
	}

	o.CorrelationID = idField(o, cb, "MerchantRequestID")
	o.SecondaryID = idField(o, cb, "CheckoutRequestID")
	readResult(o, cb)

	meta, present := cb["CallbackMetadata"]
	if !present || meta == nil {
		return
	}
	metaObj, ok := meta.(map[string]any)
	if !ok {
		o.Issues = append(o.Issues, "CallbackMetadata is not an object")
		return
	}

	for _, it := range itemList(o, metaObj, "Item") {
		name, _ := asString(it["Name"])
		if name == "" {
			o.Issues = append(o.Issues, "metadata item without Name")
			continue
		}
		value := it["Value"]
		if _, dup := o.RawMetadata[name]; dup {
			continue
		}
		o.RawMetadata[name] = value

		switch name {
		case "Amount":
			o.Amount = floatValue(o, name, value)
		case "MpesaReceiptNumber":
			o.ProviderReceipt = stringValue(o, name, value)
		case "TransactionDate":
			o.CompletedAt = stringValue(o, name, value)
		case "PhoneNumber":
			o.CounterpartyPhone = stringValue(o, name, value)
		}
	}
}

func normalizeDisbursement(o *outcome.PaymentOutcome, root map[string]any) {
	res, ok := root["Result"].(map[string]any)
	if !ok {
		o.Issues = append(o.Issues, "missing Result")
		return
	}

	o.CorrelationID = idField(o, res, "ConversationID")
	o.SecondaryID = idField(o, res, "OriginatorConversationID")
	if v, present := res["TransactionID"]; present {
		o.TransactionID = stringValue(o, "TransactionID", v)
	}
	if v, present := res["ResultType"]; present {
		if n, ok := asInt(v); ok {
			o.ResultType = &n
		} else {
			o.Issues = append(o.Issues, "ResultType is not an integer")
		}
	}
	readResult(o, res)

	params, present := res["ResultParameters"]
	if !present || params == nil {
		return
	}
	paramsObj, ok := params.(map[string]any)
	if !ok {
		o.Issues = append(o.Issues, "ResultParameters is not an object")
		return
	}

	for _, it := range itemList(o, paramsObj, "ResultParameter") {
		key, _ := asString(it["Key"])
		if key == "" {
			o.Issues = append(o.Issues, "result parameter without Key")
			continue
		}
		value := it["Value"]
		if _, dup := o.RawMetadata[key]; dup {
			continue
		}
		o.RawMetadata[key] = value

		switch key {
		case "TransactionAmount":
			o.Amount = floatValue(o, key, value)
		case "TransactionReceipt":
			o.ProviderReceipt = stringValue(o, key, value)
		case "ReceiverPartyPublicName":
			if s := stringValue(o, key, value); s != nil {
				o.CounterpartyPhone, o.CounterpartyName = splitPublicName(*s)
			}
		case "TransactionCompletedDateTime":
			o.CompletedAt = stringValue(o, key, value)
		case "B2CRecipientIsRegisteredCustomer":
			o.RecipientRegistered = stringValue(o, key, value)
		case "B2CWorkingAccountAvailableFunds":
			o.WorkingAccountBalance = floatValue(o, key, value)
		case "B2CUtilityAccountAvailableFunds":
			o.UtilityAccountBalance = floatValue(o, key, value)
		case "B2CChargesPaidAccountAvailableFunds":
			o.ChargesPaidBalance = floatValue(o, key, value)
		}
	}
}

func readResult(o *outcome.PaymentOutcome, m map[string]any) {
	v, present := m["ResultCode"]
	switch code, ok := asInt(v); {
	case !present:
		o.Issues = append(o.Issues, "missing ResultCode")
	case !ok:
		o.Issues = append(o.Issues, fmt.Sprintf("unreadable ResultCode %v", v))
	default:
		o.ResultCode = code
	}

	if desc, ok := asString(m["ResultDesc"]); ok {
		o.ResultDescription = desc
	}
}

func idField(o *outcome.PaymentOutcome, m map[string]any, key string) string {
	s, ok := asString(m[key])
	if !ok || s == "" {
		o.Issues = append(o.Issues, "missing "+key)
	}
	return s
}

// itemList reads m[key] as a list of objects. Daraja sends a lone object
// instead of a one-element list for some B2C results.
func itemList(o *outcome.PaymentOutcome, m map[string]any, key string) []map[string]any {
	var raw []any
	switch v := m[key].(type) {
	case []any:
		raw = v
	case map[string]any:
		raw = []any{v}
	case nil:
		o.Issues = append(o.Issues, "missing "+key)
		return nil
	default:
		o.Issues = append(o.Issues, key+" is not a list")
		return nil
	}

	items := make([]map[string]any, 0, len(raw))
	for i, r := range raw {
		item, ok := r.(map[string]any)
		if !ok {
			o.Issues = append(o.Issues, fmt.Sprintf("%s[%d] is not an object", key, i))
			continue
		}
		items = append(items, item)
	}
	return items
}

func floatValue(o *outcome.PaymentOutcome, name string, v any) *float64 {
	f, ok := asFloat(v)
	if !ok {
		o.Issues = append(o.Issues, name+" is not a number")
		return nil
	}
	return &f
}

func stringValue(o *outcome.PaymentOutcome, name string, v any) *string {
	s, ok := asString(v)
	if !ok {
		o.Issues = append(o.Issues, name+" is not a string or number")
		return nil
	}
	if s == "" {
		return nil
	}
	return &s
}

// splitPublicName separates "254708374149 - John Doe" into phone and name.
// Without a phone prefix the whole value is the name.
func splitPublicName(s string) (phone, name *string) {
	s = strings.TrimSpace(s)
	if left, right, found := strings.Cut(s, " - "); found && isDigits(strings.TrimSpace(left)) {
		p := strings.TrimSpace(left)
		phone = &p
		if n := strings.TrimSpace(right); n != "" {
			name = &n
		}
		return phone, name
	}
	if s != "" {
		name = &s
	}
	return nil, name
}

func decodeObject(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var root map[string]any
	if err := dec.Decode(&root); err != nil {
		return nil, err
	}
	if root == nil {
		return nil, fmt.Errorf("body is not an object")
	}
	return root, nil
}

func asString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t), true
	case json.Number:
		return t.String(), true
	default:
		return "", false
	}
}

func asFloat(v any) (float64, bool) {
	var raw string
	switch t := v.(type) {
	case json.Number:
		raw = t.String()
	case string:
		raw = strings.TrimSpace(t)
	default:
		return 0, false
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func asInt(v any) (int, bool) {
	f, ok := asFloat(v)
	if !ok || f != math.Trunc(f) || f > math.MaxInt32 || f < math.MinInt32 {
		return 0, false
	}
	return int(f), true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
