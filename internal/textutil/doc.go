// Package textutil provides text normalization helpers for content
// classification.
//
// Platform metadata arrives with inconsistent casing, combining marks, and
// decorative whitespace. NormalizeTitle folds all of that into a stable
// lowercase ASCII-leaning form so marker matching behaves the same for
// "How To", "HOW TO", and "Hôw Tö".
package textutil
