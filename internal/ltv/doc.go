// Package ltv implements the Length-Type-Value parameter maps carried by
// LE Audio codec configurations and metadata. It provides parsing, canonical
// serialization, intersection and type removal over ordered entry sets.
package ltv
