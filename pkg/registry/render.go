package registry

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/padron/pkg/permissions"
)

var monthNames = [...]string{
	"ENERO", "FEBRERO", "MARZO", "ABRIL", "MAYO", "JUNIO",
	"JULIO", "AGOSTO", "SEPTIEMBRE", "OCTUBRE", "NOVIEMBRE", "DICIEMBRE",
}

var genderNames = map[string]string{
	"0": "No consta",
	"1": "Hombre",
	"6": "Mujer",
}

// dateLayouts are tried in order for dates returned as text
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// FormatDate renders t as "2 de ENERO, 2006"
func FormatDate(t time.Time) string {
	return fmt.Sprintf("%d de %s, %d", t.Day(), monthNames[t.Month()-1], t.Year())
}

// FormatFlag renders T/F registry flags as Sí/No
func FormatFlag(value string) string {
	switch strings.ToUpper(value) {
	case "T", "TRUE", "1", "S":
		return "Sí"
	default:
		return "No"
	}
}

// FormatGender renders a registry gender code, passing unknown codes through
func FormatGender(code string) string {
	if name, ok := genderNames[code]; ok {
		return name
	}
	return code
}

// text converts a scanned column value to trimmed text. ok is false for
// NULL and blank values.
func text(raw interface{}) (string, bool) {
	var s string
	switch v := raw.(type) {
	case nil:
		return "", false
	case string:
		s = v
	case []byte:
		s = string(v)
	case time.Time:
		s = v.Format("2006-01-02")
	case bool:
		if v {
			s = "T"
		} else {
			s = "F"
		}
	case int64:
		s = strconv.FormatInt(v, 10)
	case float64:
		s = strconv.FormatFloat(v, 'f', -1, 64)
	default:
		s = fmt.Sprint(v)
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

// date converts a scanned column value to a time
func date(raw interface{}) (time.Time, bool) {
	if t, ok := raw.(time.Time); ok {
		return t, !t.IsZero()
	}
	s, ok := text(raw)
	if !ok {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// renderField renders the raw column values of field. Instruction levels are
// returned as their code; the repository resolves the description.
func renderField(field permissions.Field, raw []interface{}) (string, bool) {
	switch field.Render {
	case permissions.RenderDate:
		if t, ok := date(raw[0]); ok {
			return FormatDate(t), true
		}
		// unparseable dates are shown as stored
		return text(raw[0])
	case permissions.RenderFlag:
		s, ok := text(raw[0])
		if !ok {
			return "", false
		}
		return FormatFlag(s), true
	case permissions.RenderGender:
		s, ok := text(raw[0])
		if !ok {
			return "", false
		}
		return FormatGender(s), true
	default:
		parts := make([]string, 0, len(raw))
		for _, v := range raw {
			if s, ok := text(v); ok {
				parts = append(parts, s)
			}
		}
		if len(parts) == 0 {
			return "", false
		}
		return strings.Join(parts, " "), true
	}
}
