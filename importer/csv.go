// Copyright 2024 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package importer

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/juju/errors"
	"github.com/schollz/progressbar/v3"
)

// csvFile reads a CSV file with a header row. Columns are looked up by name.
type csvFile struct {
	file   *os.File
	bar    *progressbar.ProgressBar
	reader *csv.Reader
	header map[string]int
	line   int
}

func openCSV(path string, progress io.Writer, columns ...string) (*csvFile, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, errors.Trace(err)
	}
	bar := progressbar.NewOptions64(info.Size(),
		progressbar.OptionSetDescription(filepath.Base(path)),
		progressbar.OptionSetWriter(progress),
		progressbar.OptionShowBytes(true),
		progressbar.OptionThrottle(progressThrottle),
		progressbar.OptionOnCompletion(func() { _, _ = io.WriteString(progress, "\n") }))
	pbReader := progressbar.NewReader(file, bar)
	f := &csvFile{file: file, bar: bar, reader: csv.NewReader(&pbReader)}
	f.reader.FieldsPerRecord = -1

	record, err := f.reader.Read()
	if err != nil {
		_ = file.Close()
		return nil, errors.Annotatef(err, "read header of %s", path)
	}
	f.header = make(map[string]int, len(record))
	for i, name := range record {
		f.header[strings.TrimSpace(name)] = i
	}
	for _, column := range columns {
		if _, ok := f.header[column]; !ok {
			_ = file.Close()
			return nil, errors.NotValidf("%s without column %q", path, column)
		}
	}
	return f, nil
}

// Next returns the next row or io.EOF.
func (f *csvFile) Next() (csvRow, error) {
	record, err := f.reader.Read()
	if err != nil {
		return csvRow{}, err
	}
	f.line++
	return csvRow{header: f.header, record: record, line: f.line}, nil
}

func (f *csvFile) Close() error {
	_ = f.bar.Finish()
	return f.file.Close()
}

type csvRow struct {
	header map[string]int
	record []string
	line   int
}

// Get returns a trimmed column value, or an empty string for a missing column.
func (r csvRow) Get(column string) string {
	i, ok := r.header[column]
	if !ok || i >= len(r.record) {
		return ""
	}
	return strings.TrimSpace(r.record[i])
}
