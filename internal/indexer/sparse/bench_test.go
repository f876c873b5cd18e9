package sparse

import (
	"fmt"
	"testing"
)

var benchTitles = []string{
	"Sewing Machine Operator", "Tailor", "Garment Cutter", "Taxi Driver",
	"Bus Conductor", "Electrician", "Plumber", "Carpenter", "Mason", "Welder",
}

func benchMatcher(b *testing.B, n int) *Matcher {
	b.Helper()
	m := NewMatcher(0.95)
	for i := range n {
		title := benchTitles[i%len(benchTitles)]
		doc := Document{
			Code:     fmt.Sprintf("%08d", i),
			Title:    fmt.Sprintf("%s Grade %d", title, i),
			Keywords: []string{title, "helper", "assistant"},
		}
		if err := m.Index(doc); err != nil {
			b.Fatal(err)
		}
	}
	return m
}

// BenchmarkQuery measures lexical scoring over a catalog-sized corpus.
func BenchmarkQuery(b *testing.B) {
	m := benchMatcher(b, 3600)
	for _, q := range []string{"tailor", "sewing machine operator", "assistant electrician helper"} {
		b.Run(q, func(b *testing.B) {
			b.ReportAllocs()
			for b.Loop() {
				if _, err := m.Query("en", q, 50); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkIndex(b *testing.B) {
	m := NewMatcher(0.95)
	doc := Document{Code: "75310100", Title: "Tailor", Keywords: []string{"dressmaker", "stitching"}}
	b.ReportAllocs()
	for b.Loop() {
		if err := m.Index(doc); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkSuggest(b *testing.B) {
	m := benchMatcher(b, 3600)
	b.ReportAllocs()
	for b.Loop() {
		_ = m.Suggest("sew", "en", 10)
	}
}
