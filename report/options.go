package report

import (
	"strconv"
	"strings"

	"github.com/Rhymond/go-money"

	"github.com/warp/stock-valuation/valuation"
)

// Pagination defaults.
const (
	DefaultPage     = 1
	DefaultPageSize = 10
)

// AllowedPageSizes are the page sizes a caller may ask for.
var AllowedPageSizes = []int{5, 10, 25, 50, 100}

// Sort keys accepted in Options.Ordering.
const (
	FieldSKU            = "sku"
	FieldDescription    = "description"
	FieldQuantity       = "quantity"
	FieldUnit           = "unit"
	FieldAverageCost    = "average_cost"
	FieldTotalValuation = "total_valuation"
	FieldActive         = "active"
	FieldLastEntryCost  = "last_entry_cost"
)

var orderingFields = map[string]bool{
	FieldSKU:            true,
	FieldDescription:    true,
	FieldQuantity:       true,
	FieldUnit:           true,
	FieldAverageCost:    true,
	FieldTotalValuation: true,
	FieldActive:         true,
	FieldLastEntryCost:  true,
}

// Options controls presentation of an Envelope.
type Options struct {
	// Ordering is a comma separated list of sort keys, each optionally
	// prefixed with "-" for descending. Empty keeps registry order.
	Ordering string
	Page     int
	PageSize int
	Currency string // ISO 4217 code for display strings
}

// RawOptions is the unparsed inbound form.
type RawOptions struct {
	Ordering string `query:"ordering" validate:"max=200"`
	Page     string `query:"page" validate:"omitempty,number,min=1"`
	PageSize string `query:"page_size" validate:"omitempty,oneof=5 10 25 50 100"`
}

// ParseOptions validates raw options. currency comes from configuration,
// not from the request.
func ParseOptions(raw RawOptions, currency string) (Options, error) {
	if err := valuation.ValidateStruct(raw); err != nil {
		return Options{}, err
	}

	opts := Options{
		Ordering: strings.TrimSpace(raw.Ordering),
		Page:     DefaultPage,
		PageSize: DefaultPageSize,
		Currency: currency,
	}
	if raw.Page != "" {
		page, err := strconv.Atoi(raw.Page)
		if err != nil || page < 1 {
			return Options{}, &valuation.InputError{Field: "page", Value: raw.Page, Reason: "must be a positive integer"}
		}
		opts.Page = page
	}
	if raw.PageSize != "" {
		// oneof already restricted the value.
		opts.PageSize, _ = strconv.Atoi(raw.PageSize)
	}
	if _, err := parseOrdering(opts.Ordering); err != nil {
		return Options{}, err
	}
	if money.GetCurrency(opts.Currency) == nil {
		return Options{}, &valuation.InputError{Field: "currency", Value: opts.Currency, Reason: "is not a known ISO 4217 code"}
	}
	return opts, nil
}

type sortKey struct {
	field string
	desc  bool
}

func parseOrdering(s string) ([]sortKey, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var keys []sortKey
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key := sortKey{field: part}
		if strings.HasPrefix(part, "-") {
			key = sortKey{field: part[1:], desc: true}
		}
		if !orderingFields[key.field] {
			return nil, &valuation.InputError{Field: "ordering", Value: part, Reason: "is not a sortable field"}
		}
		keys = append(keys, key)
	}
	return keys, nil
}
