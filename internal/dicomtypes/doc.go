// Package dicomtypes defines the conventions used to recognize DICOM
// candidate files on a file store and small helpers for normalizing the
// string values found in DICOM headers.
//
// Candidate detection is purely name-based: it never opens file contents.
// Anonymized exports commonly ship instances with no extension at all, or
// with purely numeric names, so those are treated as candidates alongside
// the well-known extensions.
package dicomtypes
