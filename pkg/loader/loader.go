package loader

import (
	"context"
)

type SourceFileType string

const (
	SourceFileTypeFile SourceFileType = "file"
	SourceFileTypeCSV  SourceFileType = "csv"
	SourceFileTypeZip  SourceFileType = "zip"
	SourceFileTypeJSON SourceFileType = "json"
	SourceFileTypeOBO  SourceFileType = "obo"
)

// SourceFile represents one raw input of a source pipeline, such as a release
// archive, a table export or an OBO file. Location is a local path, an
// s3://bucket/key reference or an http(s) URL.
//
// The actual file content is retrieved via the associated SourceFileLoader.
type SourceFile struct {
	ID       string
	Location string
	FileType SourceFileType
	Loader   SourceFileLoader
}

// NewSourceFileParams defines the input parameters for creating a new
// SourceFile.
type NewSourceFileParams struct {
	ID       string
	Location string
	Loader   SourceFileLoader
}

// NewSourceFile creates a SourceFile whose type is derived from the extension
// of its location.
func NewSourceFile(params NewSourceFileParams) SourceFile {
	return SourceFile{
		ID:       params.ID,
		Location: params.Location,
		FileType: FileTypeOf(params.Location),
		Loader:   params.Loader,
	}
}

// NewCSVSourceFile creates a SourceFile of type SourceFileTypeCSV regardless of
// its extension.
func NewCSVSourceFile(params NewSourceFileParams) SourceFile {
	return SourceFile{
		ID:       params.ID,
		Location: params.Location,
		FileType: SourceFileTypeCSV,
		Loader:   params.Loader,
	}
}

// GetBytes retrieves the raw content of the file using its Loader.
//
// Example:
//
//	data, err := file.GetBytes(ctx)
//	if err != nil {
//		log.Fatal(err)
//	}
func (f *SourceFile) GetBytes(ctx context.Context) ([]byte, error) {
	return f.Loader.GetFileBytes(ctx, *f)
}

// SourceFileLoader defines the interface for loading the contents of a
// SourceFile. Implementations may load files from disk, object storage or
// over HTTP.
type SourceFileLoader interface {
	GetFileBytes(ctx context.Context, file SourceFile) ([]byte, error)
}
