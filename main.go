package main

import "github.com/sergev/drawbridge/adapter"

func main() {
	adapter.Execute()
}
