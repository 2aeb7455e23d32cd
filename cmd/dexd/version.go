package main

// Version and Build are overridden at link time via -ldflags.
var (
	Version = "dev"
	Build   = "unknown"
)
