// Package export writes committed frames out to interchange formats.
package export

import (
	"fmt"
	"io"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet"
	"github.com/apache/arrow/go/v14/parquet/compress"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"

	"github.com/cleanflow/cleanflow/pkg/dataset"
)

// Compression selects the Parquet codec.
type Compression string

const (
	CompressionSnappy Compression = "snappy"
	CompressionGzip   Compression = "gzip"
	CompressionZstd   Compression = "zstd"
	CompressionNone   Compression = "none"
)

// ParquetOptions controls the Parquet output.
type ParquetOptions struct {
	Compression Compression
}

// DefaultParquetOptions returns sensible defaults.
func DefaultParquetOptions() ParquetOptions {
	return ParquetOptions{Compression: CompressionSnappy}
}

// columnKind picks the Arrow type for a column from its cells: the first
// non-null kind wins, and a column that mixes kinds degrades to string.
func columnKind(f *dataset.Frame, col int) dataset.ValueKind {
	kind := dataset.KindString
	seen := false
	for _, row := range f.Rows {
		v := row[col]
		if v.Null {
			continue
		}
		if !seen {
			kind = v.Kind
			seen = true
			continue
		}
		if v.Kind != kind {
			return dataset.KindString
		}
	}
	return kind
}

func frameSchema(f *dataset.Frame) (*arrow.Schema, []dataset.ValueKind) {
	fields := make([]arrow.Field, len(f.Columns))
	kinds := make([]dataset.ValueKind, len(f.Columns))
	for i, name := range f.Columns {
		kinds[i] = columnKind(f, i)
		var typ arrow.DataType
		switch kinds[i] {
		case dataset.KindNumber:
			typ = arrow.PrimitiveTypes.Float64
		case dataset.KindTime:
			typ = arrow.FixedWidthTypes.Timestamp_us
		default:
			typ = arrow.BinaryTypes.String
		}
		fields[i] = arrow.Field{Name: name, Type: typ, Nullable: true}
	}
	return arrow.NewSchema(fields, nil), kinds
}

// WriteParquet writes a frame as a single-row-group Parquet file.
func WriteParquet(w io.Writer, f *dataset.Frame, opts ParquetOptions) error {
	allocator := memory.NewGoAllocator()
	schema, kinds := frameSchema(f)

	var codec compress.Compression
	switch opts.Compression {
	case CompressionSnappy:
		codec = compress.Codecs.Snappy
	case CompressionGzip:
		codec = compress.Codecs.Gzip
	case CompressionZstd:
		codec = compress.Codecs.Zstd
	default:
		codec = compress.Codecs.Uncompressed
	}

	writerProps := parquet.NewWriterProperties(
		parquet.WithCompression(codec),
		parquet.WithDictionaryDefault(true),
	)
	arrowProps := pqarrow.NewArrowWriterProperties(
		pqarrow.WithStoreSchema(),
	)

	writer, err := pqarrow.NewFileWriter(schema, w, writerProps, arrowProps)
	if err != nil {
		return fmt.Errorf("failed to create parquet writer: %w", err)
	}

	cols := make([]arrow.Array, len(f.Columns))
	for i := range f.Columns {
		cols[i] = buildColumn(allocator, f, i, kinds[i])
	}
	defer func() {
		for _, c := range cols {
			c.Release()
		}
	}()

	batch := array.NewRecord(schema, cols, int64(f.NumRows()))
	defer batch.Release()

	if err := writer.Write(batch); err != nil {
		writer.Close()
		return fmt.Errorf("failed to write record batch: %w", err)
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close parquet writer: %w", err)
	}
	return nil
}

func buildColumn(allocator memory.Allocator, f *dataset.Frame, col int, kind dataset.ValueKind) arrow.Array {
	switch kind {
	case dataset.KindNumber:
		b := array.NewFloat64Builder(allocator)
		defer b.Release()
		b.Reserve(f.NumRows())
		for _, row := range f.Rows {
			v := row[col]
			if v.Null {
				b.AppendNull()
				continue
			}
			b.Append(v.Num)
		}
		return b.NewArray()

	case dataset.KindTime:
		b := array.NewTimestampBuilder(allocator, &arrow.TimestampType{Unit: arrow.Microsecond, TimeZone: "UTC"})
		defer b.Release()
		b.Reserve(f.NumRows())
		for _, row := range f.Rows {
			v := row[col]
			if v.Null {
				b.AppendNull()
				continue
			}
			b.Append(arrow.Timestamp(v.Time.UTC().UnixMicro()))
		}
		return b.NewArray()

	default:
		b := array.NewStringBuilder(allocator)
		defer b.Release()
		b.Reserve(f.NumRows())
		for _, row := range f.Rows {
			v := row[col]
			if v.Null {
				b.AppendNull()
				continue
			}
			b.Append(v.Text())
		}
		return b.NewArray()
	}
}
