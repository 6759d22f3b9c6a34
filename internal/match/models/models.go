// Package models defines the wire and registry types shared by the match
// components.
package models

import "time"

// SORAttributes is the parsed sorAttributes document from a submission: flat
// fields plus repeated typed groups such as identifiers and names.
type SORAttributes map[string]any

// Request is one inbound match or search submission.
type Request struct {
	SOR        string
	SORID      string
	Attributes SORAttributes
}

// LinkageRow is the registry's unit of storage: one row per (sor, sorid) pair.
// A nil ReferenceID means the submission is pending resolution.
type LinkageRow struct {
	ID             int64
	SOR            string
	SORID          string
	ReferenceID    *string
	RequestTime    time.Time
	ResolutionTime *time.Time

	// Attributes holds the configured attribute columns, keyed by column
	// name; absent values are omitted.
	Attributes map[string]string
}

// Resolved reports whether the row is linked to a durable identity.
func (r *LinkageRow) Resolved() bool {
	return r.ReferenceID != nil && *r.ReferenceID != ""
}

// Columns returns all stored column values including sor and sorid, which the
// response mapper folds back into the wire shape.
func (r *LinkageRow) Columns() map[string]string {
	cols := make(map[string]string, len(r.Attributes)+2)
	for k, v := range r.Attributes {
		cols[k] = v
	}
	cols["sor"] = r.SOR
	cols["sorid"] = r.SORID
	return cols
}

// SORRecord is one stored row rendered back into the hierarchical wire shape.
type SORRecord map[string]any

// Origin identifies the (sor, sorid) pair a stored attribute set came from.
type Origin struct {
	SOR   string
	SORID string
}

// Candidate is one match candidate: a reference id, a confidence tier, and
// the wire-shaped attribute sets of every row linked to that identity.
// Origins tracks which (sor, sorid) pairs contributed attribute sets; it is
// parallel to Attributes and not part of the wire contract.
type Candidate struct {
	ID         string      `json:"id"`
	Confidence int         `json:"confidence"`
	Attributes []SORRecord `json:"attributes"`
	Origins    []Origin    `json:"-"`
}

// HasSORRecord reports whether the candidate already carries an attribute set
// originating from the given (sor, sorid) pair.
func (c *Candidate) HasSORRecord(sor, sorid string) bool {
	for _, o := range c.Origins {
		if o.SOR == sor && o.SORID == sorid {
			return true
		}
	}
	return false
}
