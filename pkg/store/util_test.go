package store

import (
	"errors"
	"reflect"
	"testing"
)

func TestChunkRange(t *testing.T) {
	tests := []struct {
		name  string
		total int
		size  int
		want  [][2]int
	}{
		{name: "empty", total: 0, size: 3, want: nil},
		{name: "exact", total: 6, size: 3, want: [][2]int{{0, 3}, {3, 6}}},
		{name: "remainder", total: 7, size: 3, want: [][2]int{{0, 3}, {3, 6}, {6, 7}}},
		{name: "zero size", total: 4, size: 0, want: [][2]int{{0, 4}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got [][2]int
			err := ChunkRange(tt.total, tt.size, func(start, end int) error {
				got = append(got, [2]int{start, end})
				return nil
			})
			if err != nil {
				t.Fatalf("ChunkRange: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestChunkRangeStopsOnError(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := ChunkRange(10, 2, func(start, end int) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) || calls != 1 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}

func TestDedupeStrings(t *testing.T) {
	got := DedupeStrings([]string{"b", "", "a", "b", "c", "a"})
	if want := []string{"b", "a", "c"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	if DedupeStrings(nil) != nil {
		t.Fatalf("expected nil for empty input")
	}
}
