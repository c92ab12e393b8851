// Package crawler walks catalog hoods and their burbs page by page, writes one
// document per hood, and records a checkpoint for every finished unit so an
// interrupted run can resume without refetching.
package crawler
