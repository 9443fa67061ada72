// Package watch re-runs a function when source files change.
//
// Changes are collected until the directories have been quiet for the
// debounce interval and then delivered as one batch. Directories created
// while watching are added automatically.
package watch
