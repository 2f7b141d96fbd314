package model

import "strings"

// OficioRecord is the canonical structured result of extracting one oficio.
// It is owned by the unit that produced it and is immutable once written; a
// retry writes a new record and repoints the unit at it.
type OficioRecord struct {
	OficioNumber     string   `json:"oficio_number"`
	Authority        string   `json:"authority"`
	IssueDate        string   `json:"issue_date,omitempty"`
	ReceivedDate     string   `json:"received_date,omitempty"`
	DueDate          string   `json:"due_date,omitempty"`
	ResolutionNumber string   `json:"resolution_number,omitempty"`
	ResolutionDate   string   `json:"resolution_date,omitempty"`
	ClientName       string   `json:"client_name,omitempty"`
	ClientID         string   `json:"client_id,omitempty"`
	FileNumber       string   `json:"file_number,omitempty"`
	Amount           float64  `json:"amount"`
	Classification   string   `json:"classification,omitempty"`
	Confidence       string   `json:"confidence,omitempty"`
	Sensitive        bool     `json:"sensitive"`
	Keywords         []string `json:"keywords,omitempty"`
	FullText         string   `json:"full_text,omitempty"`
	Persons          []Person `json:"persons,omitempty"`
}

// Person is one individual referenced by an oficio.
type Person struct {
	FirstName          string  `json:"first_name,omitempty"`
	LastName           string  `json:"last_name,omitempty"`
	Identification     string  `json:"identification,omitempty"`
	IdentificationType string  `json:"identification_type,omitempty"`
	Amount             float64 `json:"amount"`
	FileNumber         string  `json:"file_number,omitempty"`
	Sequence           int     `json:"sequence"`
}

// FullName joins the name parts. The external system never accepts a full
// name as input; it is always derived here.
func (p Person) FullName() string {
	return strings.TrimSpace(strings.Join(
		[]string{strings.TrimSpace(p.FirstName), strings.TrimSpace(p.LastName)}, " "))
}
