package verify

import (
	"fmt"
	"strings"
)

// Category is a class of validation error recognized by keywords in the
// response message.
type Category string

const (
	MissingAction             Category = "MissingAction"
	MissingToken              Category = "MissingToken"
	MissingRequiredParameters Category = "MissingRequiredParameters"
	UnknownAction             Category = "UnknownAction"
)

// Each category matches when any group matches; a group matches when the
// lowercased message contains every one of its substrings.
var categoryKeywords = map[Category][][]string{
	MissingAction: {
		{"action"}, {"invalid action"}, {"allowed"}, {"null"},
		{"missing"}, {"required"}, {"отсутств"}, {"обяз"},
	},
	MissingToken: {
		{"token"}, {"must not be null"}, {"null"}, {"missing"},
		{"required"}, {"не должно равняться null"}, {"отсутств"}, {"обяз"},
	},
	MissingRequiredParameters: {
		{"token"}, {"action"}, {"invalid action"}, {"must not be null"},
		{"не должно равняться null"}, {"null"}, {"missing"}, {"required"},
		{"обяз"}, {"отсутств"},
	},
	UnknownAction: {
		{"invalid action"}, {"unknown_action"}, {"unknown action"},
		{"allowed: login"}, {"неизвест"}, {"недопуст"},
		{"invalid", "action"},
	},
}

// Categories lists every known category.
func Categories() []Category {
	return []Category{MissingAction, MissingToken, MissingRequiredParameters, UnknownAction}
}

// ParseCategory resolves a category by name, case-insensitively.
func ParseCategory(name string) (Category, error) {
	for _, c := range Categories() {
		if strings.EqualFold(string(c), name) {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown error category %q", name)
}

// Matches reports whether msg falls into c. Categories are not exclusive.
func (c Category) Matches(msg string) bool {
	m := strings.ToLower(msg)
	for _, group := range categoryKeywords[c] {
		if containsAll(m, group) {
			return true
		}
	}
	return false
}

// Classify returns every category msg matches.
func Classify(msg string) []Category {
	var out []Category
	for _, c := range Categories() {
		if c.Matches(msg) {
			out = append(out, c)
		}
	}
	return out
}

func containsAll(s string, subs []string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}
