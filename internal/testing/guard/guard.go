// Package guard is blank-imported by main package tests so that calling main()
// returns immediately instead of starting servers.
package guard

import "os"

func init() {
	if _, ok := os.LookupEnv("STIPEND_TEST_MODE"); !ok {
		_ = os.Setenv("STIPEND_TEST_MODE", "1")
	}
}
