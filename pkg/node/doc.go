// Package node assembles the engine components of one dist-space instance
// and manages their lifecycle.
package node
