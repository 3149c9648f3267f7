package orchestrator

import "fmt"

func errMissing(what string) error {
	return fmt.Errorf("orchestrator: %s is required", what)
}
