// Package store groups the ResultStore implementations that persist
// completed batches. The interface itself lives in internal/analysis;
// concrete backends (postgres, fs, memory) live in subpackages so this
// tree never forces database drivers on callers that do not need them.
package store
