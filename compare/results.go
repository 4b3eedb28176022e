package compare

import (
	"encoding/json"
	"math"
	"math/big"
	"regexp"
	"time"
)

// Decimals and floats are rounded to this many places before comparison.
const DecimalPlaces = 2

const dateLayout = "2006-01-02"

var decimalStringRe = regexp.MustCompile(`^-?[0-9]+(\.[0-9]+)?$`)

// CanonicalRows turns a fetched row set into canonical row keys: dates
// become YYYY-MM-DD strings, numerics are rounded half-up to two places,
// JSON cells are re-serialized with stable key order, and each row is
// encoded as one string so rows can be compared both positionally and as
// set elements.
func CanonicalRows(rows [][]any) []string {
	keys := make([]string, 0, len(rows))
	for _, row := range rows {
		items := make([]any, len(row))
		for i, v := range row {
			items[i] = canonicalValue(v)
		}
		// canonical values are all JSON-encodable
		encoded, _ := json.Marshal(items)
		keys = append(keys, string(encoded))
	}
	return keys
}

func canonicalValue(v any) any {
	switch t := v.(type) {
	case time.Time:
		return t.Format(dateLayout)
	case float64:
		return roundFloat(t, DecimalPlaces)
	case float32:
		return roundFloat(float64(t), DecimalPlaces)
	case int64:
		// integers and their float equivalents compare equal
		return float64(t)
	case []byte:
		return canonicalBytes(t)
	default:
		return v
	}
}

// Numeric columns and json/jsonb columns both arrive from the driver as
// raw bytes; anything else stays a plain string.
func canonicalBytes(b []byte) any {
	s := string(b)

	if decimalStringRe.MatchString(s) {
		return roundDecimalString(s, DecimalPlaces)
	}

	if len(s) > 0 && (s[0] == '{' || s[0] == '[') {
		var doc any
		if err := json.Unmarshal(b, &doc); err == nil {
			rounded := roundRecursive(doc, DecimalPlaces)
			if encoded, err := json.Marshal(rounded); err == nil {
				return string(encoded)
			}
		}
	}

	return s
}

// Recursively round numbers inside decoded JSON structures. Map keys are
// serialized in sorted order by encoding/json, which gives nested values a
// deterministic representation.
func roundRecursive(item any, places int) any {
	switch t := item.(type) {
	case float64:
		return roundFloat(t, places)
	case []any:
		out := make([]any, len(t))
		for i, v := range t {
			out[i] = roundRecursive(v, places)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, v := range t {
			out[k] = roundRecursive(v, places)
		}
		return out
	default:
		return item
	}
}

// Round half away from zero at the given number of places.
func roundFloat(v float64, places int) float64 {
	shift := math.Pow(10, float64(places))
	return math.Round(v*shift) / shift
}

// roundDecimalString rounds an exact decimal literal half-up (away from
// zero), so "2.005" becomes 2.01 rather than the 2.00 a float64 detour
// would produce.
func roundDecimalString(s string, places int) float64 {
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return 0
	}

	shift := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(places)), nil)
	scaled := new(big.Rat).Mul(r, new(big.Rat).SetInt(shift))

	// trunc((2n ± d) / 2d) rounds n/d to the nearest integer with ties
	// away from zero
	num := new(big.Int).Lsh(scaled.Num(), 1)
	den := new(big.Int).Lsh(scaled.Denom(), 1)
	if scaled.Sign() >= 0 {
		num.Add(num, scaled.Denom())
	} else {
		num.Sub(num, scaled.Denom())
	}
	quantized := new(big.Int).Quo(num, den)

	result, _ := new(big.Rat).SetFrac(quantized, shift).Float64()
	return result
}

// RowsEqual compares two canonical row lists. When orderMatters the rows
// must match positionally; otherwise they are compared as sets, which
// collapses duplicate rows.
func RowsEqual(pred, sol []string, orderMatters bool) bool {
	if orderMatters {
		if len(pred) != len(sol) {
			return false
		}
		for i := range pred {
			if pred[i] != sol[i] {
				return false
			}
		}
		return true
	}

	predSet := rowSet(pred)
	solSet := rowSet(sol)
	if len(predSet) != len(solSet) {
		return false
	}
	for key := range predSet {
		if _, ok := solSet[key]; !ok {
			return false
		}
	}
	return true
}

func rowSet(rows []string) map[string]struct{} {
	set := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		set[row] = struct{}{}
	}
	return set
}
