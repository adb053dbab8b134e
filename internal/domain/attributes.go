package domain

import (
	"sort"
	"strings"
)

// Attributes описывает комбинацию атрибутов варианта (size, color, ...).
type Attributes map[string]string

// Keys возвращает ключи в отсортированном порядке.
func (a Attributes) Keys() []string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Matches: точное совпадение: одинаковый набор ключей и равные значения.
func (a Attributes) Matches(other Attributes) bool {
	if len(a) != len(other) {
		return false
	}
	for _, key := range a.Keys() {
		value, ok := other[key]
		if !ok || value != a[key] {
			return false
		}
	}
	return true
}

// Canonical возвращает стабильное строковое представление для сравнения позиций.
func (a Attributes) Canonical() string {
	var b strings.Builder
	for i, key := range a.Keys() {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(a[key])
	}
	return b.String()
}

func (a Attributes) Clone() Attributes {
	if a == nil {
		return nil
	}
	out := make(Attributes, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}
