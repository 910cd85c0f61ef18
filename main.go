package main

import "github.com/mariukha/CoopManager/cmd/coop"

func main() {
	coop.Main()
}
