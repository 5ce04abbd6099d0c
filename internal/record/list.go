// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package record

// ListKind distinguishes plain lists from document libraries.
type ListKind int

const (
	PlainList ListKind = iota
	DocumentLibrary
)

func (k ListKind) String() string {
	switch k {
	case DocumentLibrary:
		return "document_library"
	default:
		return "plain_list"
	}
}

// List describes a remote list as returned by the site enumeration.
type List struct {
	ID    string
	Title string
	Kind  ListKind
	// ParentWebURL is the server-relative URL of the web that owns the list.
	ParentWebURL string
}
