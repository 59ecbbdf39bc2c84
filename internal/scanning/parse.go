package scanning

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var nonNumeric = regexp.MustCompile(`[^0-9.]`)

var dateFormats = []string{
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"1/2/2006",
	"02-01-2006",
	"Jan 2, 2006",
	"January 2, 2006",
}

// rawReceipt accepts the loosely typed fields models actually return
type rawReceipt struct {
	Vendor *string         `json:"vendor"`
	Amount json.RawMessage `json:"amount"`
	Date   *string         `json:"date"`
}

// parseReceiptJSON extracts receipt fields from a model response. The response
// may wrap the object in prose or code fences; everything from the first '{'
// to the last '}' is decoded.
func parseReceiptJSON(text string) (*ReceiptData, error) {
	start := strings.Index(text, "{")
	if start == -1 {
		return nil, fmt.Errorf("no JSON object found in response")
	}
	end := strings.LastIndex(text, "}")
	if end < start {
		return nil, fmt.Errorf("invalid JSON object in response")
	}

	var raw rawReceipt
	if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}

	data := &ReceiptData{Amount: parseAmount(raw.Amount)}
	if raw.Vendor != nil {
		data.Vendor = strings.TrimSpace(*raw.Vendor)
	}
	if raw.Date != nil {
		data.Date = normalizeDate(*raw.Date)
	}
	return data, nil
}

// parseAmount reads a number or a string such as "$1,234.56". Anything unusable is 0.
func parseAmount(raw json.RawMessage) float64 {
	if len(raw) == 0 || string(raw) == "null" {
		return 0
	}

	var amount float64
	if err := json.Unmarshal(raw, &amount); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0
		}
		amount, err = strconv.ParseFloat(nonNumeric.ReplaceAllString(s, ""), 64)
		if err != nil {
			return 0
		}
	}
	if amount < 0 {
		return 0
	}
	return amount
}

// normalizeDate converts common date layouts to YYYY-MM-DD, or returns "" when none match
func normalizeDate(s string) string {
	s = strings.TrimSpace(s)
	for _, layout := range dateFormats {
		if d, err := time.Parse(layout, s); err == nil {
			return d.Format("2006-01-02")
		}
	}
	return ""
}
