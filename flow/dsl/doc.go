// Package dsl implements the expression language used by condition and
// transform nodes: comparisons, boolean logic, parentheses and dot-path
// variable access over node outputs and run variables.
package dsl
