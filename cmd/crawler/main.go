// Package main is the entry point of the catalog crawler.
//
// Usage:
//
//	crawler --config config.yaml [--resume]
package main

func main() {
	Execute()
}
