// Package catalog persists documents, their versions, derived stage outputs,
// and deletion tasks. It is the pipeline's record of how far each version has
// progressed and what artifacts exist for it.
package catalog
