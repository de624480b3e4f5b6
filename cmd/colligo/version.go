package main

import (
	"fmt"

	"github.com/ternarybob/colligo/internal/common"
)

// printVersion writes the version line used by -version/-v
func printVersion() {
	fmt.Printf("Colligo version %s\n", common.GetFullVersion())
}
