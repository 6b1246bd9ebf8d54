// Package retriever ranks index nodes against a query embedding. It is
// a pure read path: queries run against one immutable snapshot and are
// unaffected by concurrent builds or updates.
package retriever
