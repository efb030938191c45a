// Package model holds the data types shared across the storage, downsample
// and query engine packages: datasets, schemas, partition keys, chunk
// metadata and the range-vector exchange type.
package model

import "fmt"

// ColumnType is the semantic type of a schema column.
type ColumnType int

const (
	// ColumnTypeUnknown is the zero value; never valid in a built Schema.
	ColumnTypeUnknown ColumnType = iota
	// ColumnTypeTimestamp is a long (int64) millisecond timestamp column.
	ColumnTypeTimestamp
	// ColumnTypeDouble is a float64 value column.
	ColumnTypeDouble
	// ColumnTypeHistogram is a bucketed histogram value column.
	ColumnTypeHistogram
	// ColumnTypeUTF8 is a string value column.
	ColumnTypeUTF8
	// ColumnTypeIntMap is a map[string]int64 value column.
	ColumnTypeIntMap
)

func (t ColumnType) String() string {
	switch t {
	case ColumnTypeTimestamp:
		return "timestamp-long"
	case ColumnTypeDouble:
		return "double"
	case ColumnTypeHistogram:
		return "histogram"
	case ColumnTypeUTF8:
		return "utf8"
	case ColumnTypeIntMap:
		return "int-map"
	default:
		return "unknown"
	}
}

// Column describes one column of a Schema.
type Column struct {
	Name string
	Type ColumnType
	// PartitionKey is true for columns that form the partition-key prefix.
	PartitionKey bool
}

// Schema is an ordered list of columns: a prefix of partition-key columns,
// exactly one timestamp column, and the remaining value columns.
//
// A Schema is immutable once built via NewSchema.
type Schema struct {
	ID         string
	Columns    []Column
	tsColIdx   int
	valueCols  []int
	partCols   []int
}

// NewSchema validates and builds a Schema. Exactly one column must have
// ColumnTypeTimestamp; partition-key columns must form a prefix.
func NewSchema(id string, columns []Column) (*Schema, error) {
	s := &Schema{ID: id, Columns: columns, tsColIdx: -1}
	sawNonPartition := false
	tsCount := 0
	for i, c := range columns {
		if c.PartitionKey {
			if sawNonPartition {
				return nil, fmt.Errorf("model: schema %q: partition-key columns must be a prefix, col %q is not", id, c.Name)
			}
			s.partCols = append(s.partCols, i)
			continue
		}
		sawNonPartition = true
		if c.Type == ColumnTypeTimestamp {
			tsCount++
			s.tsColIdx = i
			continue
		}
		s.valueCols = append(s.valueCols, i)
	}
	if tsCount != 1 {
		return nil, fmt.Errorf("model: schema %q: expected exactly one timestamp column, found %d", id, tsCount)
	}
	return s, nil
}

// TimestampColumnIndex returns the index of the single timestamp column.
func (s *Schema) TimestampColumnIndex() int { return s.tsColIdx }

// ValueColumnIndexes returns the indexes of all non-partition-key,
// non-timestamp columns, in schema order.
func (s *Schema) ValueColumnIndexes() []int { return s.valueCols }

// PartitionKeyColumnIndexes returns the indexes of the partition-key prefix.
func (s *Schema) PartitionKeyColumnIndexes() []int { return s.partCols }

// Dataset is a named schema plus partition-key/downsample configuration.
// Immutable once created.
type Dataset struct {
	Name              string
	Schema            *Schema
	NumShards         int
	Downsample        DownsampleConfig
}

// DownsampleConfig pairs resolutions with retention TTLs and the dataset
// names that receive downsampled output, one per resolution.
type DownsampleConfig struct {
	Resolutions    []int64 // milliseconds
	TTLs           []int64 // milliseconds, same length as Resolutions
	TargetDatasets []string
}
