// hash.go computes the content hashes the server compares against during
// incremental synchronization: one MD5 per collection (specifications,
// positions, pending orders) over a canonical JSON rendering.
//
// Hashing operates on deep copies produced by a JSON round trip, so the
// normalization below never touches the live snapshot. Numbers keep their
// wire form via json.Number; the cloud-g1 generation additionally promotes
// integer fields to floats ("X" -> "X.0") because the g1 backend serializes
// them that way.
package terminal

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"mtcloud-sdk/pkg/types"
)

// Hashes holds the hex MD5 digests of the three hashed collections.
type Hashes struct {
	SpecificationsMD5 string
	PositionsMD5      string
	OrdersMD5         string
}

// Volatile fields stripped from every position/order before hashing,
// independent of account generation.
var (
	positionVolatileFields = []string{
		"profit", "unrealizedProfit", "realizedProfit", "currentPrice",
		"currentTickValue", "updateSequenceNumber", "accountCurrencyExchangeRate",
		"comment", "originalComment", "clientId",
	}
	orderVolatileFields = []string{
		"currentPrice", "updateSequenceNumber", "accountCurrencyExchangeRate",
		"comment", "originalComment", "clientId",
	}
)

// GetHashes returns the content hashes of the best snapshot's
// specifications, positions and orders, normalized for the given account
// generation with the supplied registry ignore lists.
func (s *State) GetHashes(accountType string, ignoredLists types.HashingIgnoredFieldLists) (Hashes, error) {
	g1 := accountType == types.AccountTypeCloudG1
	ignored := ignoredLists.ForAccountType(accountType)

	specifications := s.Specifications()
	specMaps := make([]map[string]any, 0, len(specifications))
	for _, spec := range specifications {
		m, err := toJSONMap(spec)
		if err != nil {
			return Hashes{}, fmt.Errorf("hash specification %s: %w", spec.Symbol, err)
		}
		deleteFields(m, ignored.Specification)
		if g1 {
			delete(m, "description")
			promoteIntegers(m, "digits")
		}
		specMaps = append(specMaps, m)
	}

	positions := s.Positions()
	sort.Slice(positions, func(i, j int) bool { return positions[i].ID < positions[j].ID })
	positionMaps := make([]map[string]any, 0, len(positions))
	for _, position := range positions {
		m, err := toJSONMap(position)
		if err != nil {
			return Hashes{}, fmt.Errorf("hash position %s: %w", position.ID, err)
		}
		deleteFields(m, positionVolatileFields)
		deleteFields(m, ignored.Position)
		if g1 {
			delete(m, "time")
			delete(m, "updateTime")
			promoteIntegers(m, "magic")
		}
		positionMaps = append(positionMaps, m)
	}

	orders := s.Orders()
	sort.Slice(orders, func(i, j int) bool { return orders[i].ID < orders[j].ID })
	orderMaps := make([]map[string]any, 0, len(orders))
	for _, order := range orders {
		m, err := toJSONMap(order)
		if err != nil {
			return Hashes{}, fmt.Errorf("hash order %s: %w", order.ID, err)
		}
		deleteFields(m, orderVolatileFields)
		deleteFields(m, ignored.Order)
		if g1 {
			delete(m, "time")
			promoteIntegers(m, "magic")
		}
		orderMaps = append(orderMaps, m)
	}

	return Hashes{
		SpecificationsMD5: digest(specMaps),
		PositionsMD5:      digest(positionMaps),
		OrdersMD5:         digest(orderMaps),
	}, nil
}

// toJSONMap deep-copies a struct into a generic map, keeping numbers as
// json.Number so their lexical wire form survives.
func toJSONMap(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	return m, nil
}

func deleteFields(m map[string]any, fields []string) {
	for _, f := range fields {
		delete(m, f)
	}
}

// promoteIntegers rewrites integer-valued number fields as floats ("42" ->
// "42.0"), keeping the named exception untouched. Booleans and non-numeric
// fields are unaffected.
func promoteIntegers(m map[string]any, except string) {
	for key, val := range m {
		if key == except {
			continue
		}
		num, ok := val.(json.Number)
		if !ok {
			continue
		}
		if strings.ContainsAny(num.String(), ".eE") {
			continue
		}
		m[key] = json.Number(num.String() + ".0")
	}
}

// digest renders a canonical JSON document (sorted object keys, UTF-8, no
// insignificant whitespace) and returns its hex MD5.
func digest(items []map[string]any) string {
	var buf bytes.Buffer
	writeCanonicalList(&buf, items)
	sum := md5.Sum(buf.Bytes())
	return hex.EncodeToString(sum[:])
}

func writeCanonicalList(buf *bytes.Buffer, items []map[string]any) {
	buf.WriteByte('[')
	for i, item := range items {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeCanonicalValue(buf, item)
	}
	buf.WriteByte(']')
}

func writeCanonicalValue(buf *bytes.Buffer, v any) {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case string:
		raw, _ := json.Marshal(val)
		buf.Write(raw)
	case json.Number:
		buf.WriteString(val.String())
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			raw, _ := json.Marshal(k)
			buf.Write(raw)
			buf.WriteByte(':')
			writeCanonicalValue(buf, val[k])
		}
		buf.WriteByte('}')
	case []any:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeCanonicalValue(buf, item)
		}
		buf.WriteByte(']')
	default:
		// Unreachable for UseNumber-decoded JSON; keep output well formed.
		raw, _ := json.Marshal(val)
		buf.Write(raw)
	}
}
