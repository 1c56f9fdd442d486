// Streams CSV input into a staging file through a bounded pipeline.

package jsonldb

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/sync/errgroup"
)

// csvQueueSize bounds the rows buffered between the decoder and the writer.
// When the disk is slower than the upload, the decoder blocks.
const csvQueueSize = 256

// ReplaceCSV decodes CSV from r and atomically replaces the dataset with it.
//
// The first CSV row is the header. A UTF-8 byte order mark on the header is
// stripped, short rows are padded with "" and rows longer than the header
// get synthetic column names. Quotes are parsed leniently: a bare quote in a
// field is kept as is and an unterminated quoted field runs to the end of the
// input. The input is never fully buffered: decoding
// and writing run concurrently with a bounded queue between them.
//
// If decoding, writing or ctx fails, the active dataset is left untouched.
func (d *Dataset) ReplaceCSV(ctx context.Context, r io.Reader) (int, error) {
	s, err := d.NewStaging()
	if err != nil {
		return 0, err
	}
	rows := make(chan Record, csvQueueSize)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(rows)
		return decodeCSV(gctx, r, rows)
	})
	g.Go(func() error {
		for rec := range rows {
			if err := s.Append(rec); err != nil {
				// Returning cancels gctx, which unblocks the producer.
				return err
			}
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return 0, errors.Join(err, s.Abort())
	}
	if err := ctx.Err(); err != nil {
		return 0, errors.Join(err, s.Abort())
	}
	return s.Commit()
}

// decodeCSV sends one Record per CSV data row to out.
func decodeCSV(ctx context.Context, r io.Reader, out chan<- Record) error {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = true
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	header = append([]string(nil), header...)
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	for i, h := range header {
		header[i] = strings.TrimSpace(h)
	}
	for {
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		cols := header
		if len(fields) > len(header) {
			cols = append(append([]string(nil), header...), extraColumns(len(header), len(fields))...)
		}
		select {
		case out <- NewRecord(cols, fields):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// extraColumns names the columns of overlong rows by their 0-based position.
func extraColumns(from, to int) []string {
	names := make([]string, 0, to-from)
	for i := from; i < to; i++ {
		names = append(names, fmt.Sprintf("_%d", i))
	}
	return names
}
