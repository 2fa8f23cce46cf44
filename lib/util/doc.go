// Package util provides the statistics used to report on the state of a cache
// directory: summary statistics, a quality score for how evenly entries are
// spread over cluster directories and a bucketed histogram of entry sizes.
package util
