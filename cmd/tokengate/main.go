// Package main is the entry point for the tokengate server.
package main

func main() {
	Execute()
}
