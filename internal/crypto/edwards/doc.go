// Package edwards implements arithmetic on untwisted Edwards curves
// x² + y² = 1 + d·x²·y² over prime fields.
//
// Two parameter sets are provided, MDC and Curve25519 (in its Edwards
// form), each selected by a one byte identifier. Besides full point
// arithmetic the package offers a y-coordinate only Montgomery ladder. The
// y-only ladder computes y(n·P) from y(P) alone, which is well defined
// because P and -P share their y coordinate: no sign selection is needed
// and none is performed.
package edwards
