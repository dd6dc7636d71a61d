// Package logging sets up structured JSON logging for docsearch.
// Logs go to a size-rotated file under ~/.docsearch/logs/ and, optionally, stderr.
package logging
