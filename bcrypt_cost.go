//go:build !race

package appkit

func passwordHashCost() int {
	return 14
}
