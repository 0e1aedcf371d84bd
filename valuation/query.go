package valuation

import (
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/warp/stock-valuation/ledger"
)

// =============================================================================
// QUERY - Validated input of a valuation call
// =============================================================================

// Filters select the items of a valuation call.
type Filters struct {
	SKU           string // case-insensitive substring of the SKU
	Description   string // case-insensitive substring of the description
	OnlyWithStock bool   // drop items whose computed quantity is exactly zero
	OnlyActive    bool   // restrict candidates to active items
}

func (f Filters) itemFilter() ledger.ItemFilter {
	return ledger.ItemFilter{
		SKU:         f.SKU,
		Description: f.Description,
		OnlyActive:  f.OnlyActive,
	}
}

// Query is the input of ComputeSnapshots. A zero AsOf means today.
type Query struct {
	AsOf    ledger.Date
	Filters Filters
}

// Key is a canonical string for the query, stable across calls. The HTTP
// layer uses it to coalesce identical concurrent requests.
func (q Query) Key() string {
	return strings.Join([]string{
		q.AsOf.String(),
		q.Filters.SKU,
		q.Filters.Description,
		strconv.FormatBool(q.Filters.OnlyWithStock),
		strconv.FormatBool(q.Filters.OnlyActive),
	}, "\x1f")
}

// =============================================================================
// RAW QUERY - String form received from HTTP / CLI
// =============================================================================

// Input limits, carried over from the catalog's column sizes.
const (
	MaxSKULength         = 50
	MaxDescriptionLength = 1000
)

// RawQuery is the unparsed inbound form. Every field is optional.
type RawQuery struct {
	AsOf          string `query:"as_of" validate:"omitempty,datetime=2006-01-02"`
	SKU           string `query:"sku" validate:"max=50"`
	Description   string `query:"description" validate:"max=1000"`
	OnlyWithStock string `query:"only_with_stock" validate:"omitempty,boolean"`
	OnlyActive    string `query:"only_active" validate:"omitempty,boolean"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if name := f.Tag.Get("query"); name != "" {
			return name
		}
		if name, _, _ := strings.Cut(f.Tag.Get("json"), ","); name != "" && name != "-" {
			return name
		}
		return f.Name
	})
	return v
}

// Validator exposes the package validator so other inbound surfaces share
// the same tag-name convention.
func Validator() *validator.Validate { return validate }

// ParseQuery validates raw input and converts it. It never touches a store:
// malformed input is rejected before any aggregation runs.
func ParseQuery(raw RawQuery) (Query, error) {
	raw.AsOf = strings.TrimSpace(raw.AsOf)
	if err := ValidateStruct(raw); err != nil {
		return Query{}, err
	}

	var q Query
	if raw.AsOf != "" {
		d, err := ledger.ParseDate(raw.AsOf)
		if err != nil {
			return Query{}, &InputError{Field: "as_of", Value: raw.AsOf, Reason: "must be a calendar date (YYYY-MM-DD)"}
		}
		q.AsOf = d
	}
	q.Filters = Filters{
		SKU:           strings.TrimSpace(raw.SKU),
		Description:   strings.TrimSpace(raw.Description),
		OnlyWithStock: parseBool(raw.OnlyWithStock),
		OnlyActive:    parseBool(raw.OnlyActive),
	}
	return q, nil
}

// ParseQuantity parses a strictly positive decimal.
func ParseQuantity(field, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Decimal{}, &InputError{Field: field, Value: s, Reason: "must be a decimal number"}
	}
	if !d.IsPositive() {
		return decimal.Decimal{}, &InputError{Field: field, Value: s, Reason: "must be positive"}
	}
	return d, nil
}

// ValidateStruct runs the struct tags of v and converts the first failure
// into an InputError.
func ValidateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return &InputError{Field: "query", Reason: err.Error()}
	}
	fe := verrs[0]
	return &InputError{
		Field:  fe.Field(),
		Value:  stringValue(fe.Value()),
		Reason: reasonFor(fe),
	}
}

func reasonFor(fe validator.FieldError) string {
	switch fe.Tag() {
	case "datetime":
		return "must be a calendar date (YYYY-MM-DD)"
	case "boolean":
		return "must be true or false"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "min", "gte":
		return "must be at least " + fe.Param()
	case "oneof":
		return "must be one of " + fe.Param()
	case "required":
		return "is required"
	default:
		return "failed " + fe.Tag() + " check"
	}
}

func stringValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	default:
		return ""
	}
}

// parseBool accepts what strconv.ParseBool accepts; empty is false. Input
// has already been validated.
func parseBool(s string) bool {
	b, _ := strconv.ParseBool(strings.TrimSpace(s))
	return b
}
