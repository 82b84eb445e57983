// Package report turns the lifecycle event log into a per-request summary
// table written as CSV and HTML.
package report
