//go:build !unix

package startup

func isRoot() bool { return false }
