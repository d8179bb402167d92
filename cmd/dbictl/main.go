//go:build windows
// +build windows

// Binary dbictl is a debug/inspection harness for exercising the core's
// components against a live process. It is not part of the core library
// (spec.md §6: "CLI surface: None owned by the core").
package main

import "github.com/fennimore/dbicore/cmd/dbictl/cli"

func main() {
	cli.Main()
}
