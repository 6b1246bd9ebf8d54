// Package watcher turns raw fsnotify events into debounced batches of
// changed paths, which the serve loop feeds into incremental updates.
package watcher
