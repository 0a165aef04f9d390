package utils

import (
	"strconv"
	"strings"
)

// FormatMap holds user-facing message templates keyed by format name.
// Names are case-insensitive; templates use {0}, {1}, ... placeholders.
type FormatMap map[string]string

func NewFormatMap(formats map[string]string) FormatMap {
	m := make(FormatMap, len(formats))
	for name, format := range formats {
		m.Put(name, format)
	}
	return m
}

func (m FormatMap) Put(name, format string) {
	m[strings.ToLower(name)] = format
}

// Merge copies every entry of other into m, replacing existing ones.
func (m FormatMap) Merge(other map[string]string) {
	for name, format := range other {
		m.Put(name, format)
	}
}

func (m FormatMap) Format(name string, args ...string) string {
	format, ok := m[strings.ToLower(name)]
	if !ok {
		return "Missing format for '" + name + "'"
	}

	if len(args) == 0 {
		return format
	}

	pairs := make([]string, 0, 2*len(args))
	for i, arg := range args {
		pairs = append(pairs, "{"+strconv.Itoa(i)+"}", arg)
	}
	return strings.NewReplacer(pairs...).Replace(format)
}
