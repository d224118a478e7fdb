// Package domain contains the error values shared by every peerlink package.
//
// This package represents the innermost layer of the module. It has no
// dependencies on infrastructure concerns (sockets, logging, configuration)
// and holds only the sentinels that callers match with errors.Is.
package domain
