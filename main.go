/*
Copyright © 2025 dotlessone
*/
package main

import "github.com/dotlessone/texvault/cmd"

func main() {
	cmd.Execute()
}
