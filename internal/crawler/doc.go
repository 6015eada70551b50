// Package crawler holds the domain types, sentinel errors and collaborator
// interfaces shared by the discovery, validation and extraction pipeline.
package crawler
