// Package donor defines the donor population types consumed by the
// segmentation engine, plus the Repository contract that supplies them.
//
// Donors are read-only inputs: the engine never mutates a record it receives.
// A Repository must hand back an internally consistent snapshot per call —
// no mixing of donor states from different points in time within one batch.
//
// Rules for this package:
//   - No imports from other internal/ packages
//   - Pure functions on the types are allowed (derived metrics, validation)
//   - Constants and enums belong here
package donor
