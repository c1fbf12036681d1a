package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/marcelsud/webhook-relay/webhook/endpoints"
)

/* validate-endpoints - checks an endpoints seed file without touching a database
 * Usage: go run cmd/validate-endpoints/main.go [endpoints.yaml]
 * Exit codes: 0 = valid, 1 = invalid
 */

func main() {
	file := "endpoints.yaml"
	if len(os.Args) > 1 {
		file = os.Args[1]
	}

	fmt.Printf("Validating endpoints file: %s\n", file)
	fmt.Println(strings.Repeat("-", 50))

	eps, err := endpoints.Load(file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "VALIDATION FAILED\n\nError: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("VALIDATION PASSED\n\nLoaded %d endpoint(s):\n", len(eps))
	for i, ep := range eps {
		fmt.Printf("\n%d. Endpoint: %s\n", i+1, ep.Name)
		fmt.Printf("   URL:    %s\n", ep.URL)
		fmt.Printf("   Events: %s\n", strings.Join(ep.Events, ", "))
		fmt.Printf("   Active: %t\n", ep.IsActive)
		fmt.Printf("   Signed: %t\n", ep.HasSecret())
	}
}
