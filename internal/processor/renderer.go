package processor

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/seanankenbruck/analytics-nlq/internal/catalog"
	"github.com/seanankenbruck/analytics-nlq/internal/errors"
)

var (
	placeholderPattern = regexp.MustCompile(`\{\{\s*(\w+)\s*\}\}`)
	uuidPattern        = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)
	forbiddenPattern   = regexp.MustCompile(`(?i)\b(DROP|DELETE|UPDATE|UNION)\b`)
)

// RenderedQuery is a fully substituted query that passed the safety gate
type RenderedQuery struct {
	SQL              string    `json:"sql"`
	Sanitized        bool      `json:"sanitized"`
	SubstitutedTypes []TypeTag `json:"substituted_types"`
}

// Render substitutes params into template, normalizes the result and runs the safety gate.
// Any failure is fatal; a partially rendered query is never returned.
func Render(template string, params QueryParams, expectedTables []string) (*RenderedQuery, error) {
	var sb strings.Builder
	var types []TypeTag
	last := 0

	for _, loc := range placeholderPattern.FindAllStringSubmatchIndex(template, -1) {
		name := template[loc[2]:loc[3]]
		value, ok := params[name]
		if !ok {
			return nil, errors.NewMissingParameterError(name)
		}
		encoded, err := encodeValue(name, value)
		if err != nil {
			return nil, err
		}
		sb.WriteString(template[last:loc[0]])
		sb.WriteString(encoded)
		types = append(types, value.Type)
		last = loc[1]
	}
	sb.WriteString(template[last:])

	sql := normalizeSQL(sb.String())
	if err := SafetyGate(sql, expectedTables); err != nil {
		return nil, err
	}

	return &RenderedQuery{
		SQL:              sql,
		Sanitized:        true,
		SubstitutedTypes: types,
	}, nil
}

func encodeValue(name string, v TypedValue) (string, error) {
	switch v.Type {
	case TypeUUID:
		if !uuidPattern.MatchString(v.Text) {
			return "", errors.NewInvalidParameterError(errors.ErrCodeInvalidUUID, name, "is not a canonical UUID")
		}
		return quoteLiteral(v.Text), nil

	case TypeDate:
		d, err := time.Parse(DateLayout, v.Text)
		if err != nil {
			return "", errors.NewInvalidParameterError(errors.ErrCodeInvalidDate, name,
				fmt.Sprintf("value %q is not a valid calendar date", v.Text))
		}
		return quoteLiteral(d.Format(DateLayout)), nil

	case TypeNumber:
		if math.IsNaN(v.Number) || math.IsInf(v.Number, 0) {
			return "", errors.NewInvalidParameterError(errors.ErrCodeInvalidNumber, name, "must be a finite number")
		}
		return strconv.FormatFloat(v.Number, 'f', -1, 64), nil

	case TypeEnum:
		if len(v.Values) == 0 {
			return "", errors.NewInvalidParameterError(errors.ErrCodeInvalidEnum, name, "has no value")
		}
		literals := make([]string, len(v.Values))
		for i, value := range v.Values {
			if !containsString(v.Allowed, value) {
				return "", errors.NewInvalidParameterError(errors.ErrCodeInvalidEnum, name,
					fmt.Sprintf("value %q is not one of: %s", value, strings.Join(v.Allowed, ", ")))
			}
			literals[i] = quoteLiteral(value)
		}
		return strings.Join(literals, ", "), nil

	case TypeRawString:
		return quoteLiteral(v.Text), nil

	default:
		return "", errors.NewInvalidParameterError(errors.ErrCodeInvalidInput, name,
			fmt.Sprintf("has unsupported type %q", v.Type))
	}
}

// quoteLiteral single-quotes s, doubling any embedded quote
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v'
}

// normalizeSQL strips -- comments and collapses whitespace outside string literals.
// Literal contents are copied verbatim.
func normalizeSQL(sql string) string {
	var sb strings.Builder
	inQuote := false
	pendingSpace := false

	for i := 0; i < len(sql); i++ {
		c := sql[i]
		if inQuote {
			sb.WriteByte(c)
			if c == '\'' {
				inQuote = false
			}
			continue
		}

		switch {
		case c == '-' && i+1 < len(sql) && sql[i+1] == '-':
			for i < len(sql) && sql[i] != '\n' {
				i++
			}
			pendingSpace = true
		case isSpace(c):
			pendingSpace = true
		default:
			if pendingSpace && sb.Len() > 0 {
				sb.WriteByte(' ')
			}
			pendingSpace = false
			sb.WriteByte(c)
			if c == '\'' {
				inQuote = true
			}
		}
	}

	return sb.String()
}

// maskLiterals drops the contents of every string literal so keyword checks
// only see SQL structure. ok is false when a literal is left unterminated.
func maskLiterals(sql string) (masked string, ok bool) {
	var sb strings.Builder
	inQuote := false

	for i := 0; i < len(sql); i++ {
		c := sql[i]
		if c == '\'' {
			inQuote = !inQuote
			sb.WriteByte(c)
			continue
		}
		if inQuote {
			continue
		}
		sb.WriteByte(c)
	}

	return sb.String(), !inQuote
}

// SafetyGate inspects a rendered query and rejects anything that is not a single
// read-only statement over the expected tables. It treats the whole text as untrusted,
// including the parts that came from the template.
func SafetyGate(sql string, expectedTables []string) error {
	masked, balanced := maskLiterals(sql)
	if !balanced {
		return errors.NewSafetyGateError(errors.ErrCodeInjectionDetected, "query contains an unterminated string literal")
	}

	if strings.Contains(masked, "{{") {
		return errors.NewSafetyGateError(errors.ErrCodeIncompleteRender, "query contains an unresolved placeholder")
	}

	found := false
	for _, table := range expectedTables {
		if catalog.ReferencesTable(masked, table) {
			found = true
			break
		}
	}
	if !found {
		return errors.NewSafetyGateError(errors.ErrCodeUnexpectedTableSet,
			fmt.Sprintf("query references none of the expected tables: %s", strings.Join(expectedTables, ", ")))
	}

	body := strings.TrimRight(strings.TrimSpace(masked), "; \t\n")
	if strings.Contains(body, ";") {
		return errors.NewSafetyGateError(errors.ErrCodeInjectionDetected, "query contains more than one statement")
	}
	if strings.Contains(masked, "/*") {
		return errors.NewSafetyGateError(errors.ErrCodeInjectionDetected, "query contains a block comment")
	}
	if m := forbiddenPattern.FindString(masked); m != "" {
		return errors.NewSafetyGateError(errors.ErrCodeInjectionDetected,
			fmt.Sprintf("query contains forbidden keyword %s", strings.ToUpper(m))).
			WithMetadata("keyword", strings.ToUpper(m))
	}

	return nil
}
