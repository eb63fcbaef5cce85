package schema_test

import (
	"slices"
	"testing"

	"github.com/shpitdev/lead-engagement-pipeline/pkg/pipeline/schema"
)

var leadsContract = schema.Contract{Fields: []schema.Field{
	{Name: "name", Type: "STRING"},
	{Name: "email", Type: "STRING"},
	{Name: "notes", Type: "STRING", Nullable: true},
}}

func TestContractHeader(t *testing.T) {
	if got := leadsContract.Header(); !slices.Equal(got, []string{"name", "email", "notes"}) {
		t.Fatalf("Header()=%v", got)
	}
}

func TestContractIndex(t *testing.T) {
	idx := leadsContract.Index([]string{"\ufeffEmail", " NAME ", "extra", "name"})
	if idx["email"] != 0 || idx["name"] != 1 {
		t.Fatalf("unexpected index: %#v", idx)
	}
	if _, ok := idx["notes"]; ok {
		t.Fatalf("absent column must not be indexed: %#v", idx)
	}
}

func TestContractMissing(t *testing.T) {
	tests := []struct {
		name   string
		header []string
		want   []string
	}{
		{name: "all present", header: []string{"name", "email"}, want: nil},
		{name: "nullable absent is fine", header: []string{"email", "name"}, want: nil},
		{name: "one missing", header: []string{"name"}, want: []string{"email"}},
		{name: "empty header", header: nil, want: []string{"name", "email"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := leadsContract.Missing(tt.header); !slices.Equal(got, tt.want) {
				t.Fatalf("Missing(%v)=%v want %v", tt.header, got, tt.want)
			}
		})
	}
}
