package domain

import (
	"testing"
)

func TestParseChunkID(t *testing.T) {
	tests := []struct {
		in      string
		want    ChunkID
		wantErr bool
	}{
		{in: "0", want: 0},
		{in: "333", want: 333},
		{in: "9223372036854775807", want: 9223372036854775807},
		{in: "-1", wantErr: true},
		{in: "abc", wantErr: true},
		{in: "", wantErr: true},
		{in: "1.5", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseChunkID(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseChunkID(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseChunkID(%q) = %d, want %d", tt.in, got, tt.want)
		}
		if !tt.wantErr && got.String() != tt.in {
			t.Errorf("ChunkID(%d).String() = %q, want %q", got, got.String(), tt.in)
		}
	}
}

func TestProvenanceString(t *testing.T) {
	if FromStore.String() != "store" || Fallback.String() != "fallback" {
		t.Errorf("unexpected provenance names %q %q", FromStore, Fallback)
	}
	if (TableKey{Database: "LSST", Table: "Object"}).String() != "LSST.Object" {
		t.Errorf("unexpected table key format")
	}
}
