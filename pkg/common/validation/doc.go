// Package validation provides the checks used by the blockbridge
// constructors to reject bad configuration with a consistent
// *errors.ValidationError.
package validation
