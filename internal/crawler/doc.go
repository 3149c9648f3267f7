// Package crawler holds the domain model of the catalog crawl engine: crawl
// targets, results, extracted items and catalog products, together with the
// capability interfaces (page fetching, persistence, blob archival) that the
// engine depends on and the error taxonomy shared by every subsystem.
package crawler
