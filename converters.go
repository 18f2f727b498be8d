package statesync

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
)

// ArrowMimeType is the mime type of serialised Arrow tables and records.
const ArrowMimeType = "application/vnd.apache.arrow.file"

func registerBuiltinConverters(s *Serializer) {
	RegisterInterface[arrow.Table](s, serialiseArrowTable)
	RegisterInterface[arrow.Record](s, serialiseArrowRecord)
	RegisterInterface[image.Image](s, serialiseImage)
}

// serialiseArrowTable writes the table as an Arrow IPC file, one batch per
// table chunk.
func serialiseArrowTable(_ *Serializer, v any) (any, error) {
	tbl := v.(arrow.Table)

	var buf bytes.Buffer
	w, err := ipc.NewFileWriter(&buf, ipc.WithSchema(tbl.Schema()))
	if err != nil {
		return nil, err
	}

	tr := array.NewTableReader(tbl, -1)
	defer tr.Release()
	for tr.Next() {
		if err := w.Write(tr.Record()); err != nil {
			return nil, fmt.Errorf("write arrow batch: %w", err)
		}
	}
	if err := tr.Err(); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return NewBytesWrapper(buf.Bytes(), ArrowMimeType), nil
}

func serialiseArrowRecord(_ *Serializer, v any) (any, error) {
	rec := v.(arrow.Record)

	var buf bytes.Buffer
	w, err := ipc.NewFileWriter(&buf, ipc.WithSchema(rec.Schema()))
	if err != nil {
		return nil, err
	}
	if err := w.Write(rec); err != nil {
		return nil, fmt.Errorf("write arrow record: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return NewBytesWrapper(buf.Bytes(), ArrowMimeType), nil
}

// serialiseImage renders rasters (plots, charts, thumbnails) as PNG.
func serialiseImage(_ *Serializer, v any) (any, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, v.(image.Image)); err != nil {
		return nil, err
	}
	return NewBytesWrapper(buf.Bytes(), "image/png"), nil
}
