package ui

import (
	"reflect"
	"testing"
)

func TestLevenshteinDistance(t *testing.T) {
	tests := []struct {
		s1, s2 string
		want   int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"", "abc", 3},
		{"users", "users", 0},
		{"user", "users", 1},
		{"kitten", "sitting", 3},
		{"saturday", "sunday", 3},
		{"café", "cafe", 1},
	}

	for _, tt := range tests {
		if got := LevenshteinDistance(tt.s1, tt.s2); got != tt.want {
			t.Errorf("LevenshteinDistance(%q, %q) = %d, want %d", tt.s1, tt.s2, got, tt.want)
		}
	}
}

func TestFindSimilar(t *testing.T) {
	tables := []string{"users", "user_roles", "orders", "order_items"}

	tests := []struct {
		name   string
		target string
		opts   *FuzzyMatchOptions
		want   []string
	}{
		{name: "close match", target: "usres", want: []string{"users"}},
		{name: "case insensitive", target: "ORDERS", want: []string{"orders", "users"}},
		{name: "case sensitive", target: "ORDERS", opts: &FuzzyMatchOptions{CaseSensitive: true}, want: []string{}},
		{name: "nearest first", target: "order", want: []string{"orders"}},
		{name: "limit", target: "user", opts: &FuzzyMatchOptions{MaxDistance: 10, MaxSuggestions: 2}, want: []string{"users", "orders"}},
		{name: "no match", target: "invoices", want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FindSimilar(tt.target, tables, tt.opts)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("FindSimilar(%q) = %v, want %v", tt.target, got, tt.want)
			}
		})
	}
}

func TestFindSimilarEmptyCandidates(t *testing.T) {
	if got := FindSimilar("users", nil, nil); len(got) != 0 {
		t.Errorf("Expected no suggestions, got %v", got)
	}
}
