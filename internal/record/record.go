// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package record

// Field is a single field of a list item as rendered to text by the server.
// Null is set when the server returned no value at all.
type Field struct {
	Name  string
	Value string
	Null  bool
}

// Record is one list item. Field order is the order returned by the server
// and is the same for every record of a list.
type Record struct {
	Fields []Field
}

// NewRecord copies fields into a new record.
func NewRecord(fields []Field) Record {
	cp := make([]Field, len(fields))
	copy(cp, fields)
	return Record{Fields: cp}
}

// Get returns the value of the named field. ok is false when the record has
// no such field.
func (r Record) Get(name string) (value string, ok bool) {
	for _, f := range r.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

// Has reports whether the record carries the named field.
func (r Record) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Names returns the field names in record order.
func (r Record) Names() []string {
	names := make([]string, len(r.Fields))
	for i, f := range r.Fields {
		names[i] = f.Name
	}
	return names
}

// Store holds the items of one remote list in server enumeration order.
// It is filled once by the page walker and read-only afterwards.
type Store struct {
	Title   string
	records []Record
}

// NewStore creates an empty store for the list with the given title.
func NewStore(title string) *Store {
	return &Store{Title: title}
}

// Append adds records to the end of the store.
func (s *Store) Append(records ...Record) {
	s.records = append(s.records, records...)
}

// Len returns the number of records.
func (s *Store) Len() int {
	return len(s.records)
}

// Empty reports whether the store holds no records.
func (s *Store) Empty() bool {
	return len(s.records) == 0
}

// First returns the first record. ok is false for an empty store.
func (s *Store) First() (Record, bool) {
	if len(s.records) == 0 {
		return Record{}, false
	}
	return s.records[0], true
}

// Records returns the records in insertion order. Callers must not modify
// the returned slice.
func (s *Store) Records() []Record {
	return s.records
}
