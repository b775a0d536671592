package xspfs

import "time"

// ExtAttr is one entry of a node's open-ended extended-attributes map
// (§3: "Attribute sets are open at the boundary only through the
// declared extended-attrs map").
type ExtAttr struct {
	Type  string `json:"type"`
	Value []byte `json:"value"`
}

// Attrs are the attributes common to every node type, serialized as
// the XSP object's attrs section (format 2).
type Attrs struct {
	CTime     time.Time          `json:"ctime"`
	MTime     time.Time          `json:"mtime"`
	Size      *int64             `json:"size,omitempty"`
	LayoutOfs *int64             `json:"layoutOfs,omitempty"`
	Extended  map[string]ExtAttr `json:"extended,omitempty"`
}
