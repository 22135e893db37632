package zip

import (
	"archive/zip"
	"bytes"
	"context"
	"reflect"
	"testing"

	"github.com/OFFIS-RIT/ontograph/pkg/common"
	"github.com/OFFIS-RIT/ontograph/pkg/loader"
)

func buildArchive(t *testing.T, members map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range members {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return buf.Bytes()
}

func TestReadTables(t *testing.T) {
	data := buildArchive(t, map[string]string{
		"csv/family.csv":    "id,name\n1,Kinases\n",
		"csv/hierarchy.csv": "parent_fam_id,child_fam_id\n1,2\n",
		"README.txt":        "ignored",
		"__MACOSX/._x.csv":  "junk",
	})
	tables, err := ReadTables(data)
	if err != nil {
		t.Fatalf("ReadTables: %v", err)
	}
	if len(tables) != 2 {
		t.Fatalf("expected 2 tables, got %v", tables)
	}
	family, err := tables.Table("family")
	if err != nil {
		t.Fatalf("Table: %v", err)
	}
	if want := []common.Row{{"id": "1", "name": "Kinases"}}; !reflect.DeepEqual(family, want) {
		t.Fatalf("family = %v, want %v", family, want)
	}
	if _, err := tables.Table("gene_has_family"); err == nil {
		t.Fatalf("expected error for missing table")
	}
}

type staticLoader []byte

func (s staticLoader) GetFileBytes(ctx context.Context, file loader.SourceFile) ([]byte, error) {
	return s, nil
}

func TestGetTables(t *testing.T) {
	data := buildArchive(t, map[string]string{"family.csv": "id\n7\n"})
	l := NewZipTableLoader(staticLoader(data))
	tables, err := l.GetTables(context.Background(), loader.SourceFile{ID: "hgnc", Location: "family.zip"})
	if err != nil {
		t.Fatalf("GetTables: %v", err)
	}
	if rows := tables["family"]; len(rows) != 1 || rows[0]["id"] != "7" {
		t.Fatalf("unexpected rows %v", rows)
	}

	if _, err := ReadTables([]byte("not a zip")); err == nil {
		t.Fatalf("expected error for invalid archive")
	}
}
