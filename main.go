// Command proctoring-pipeline runs the proctoring workers, the biometric
// HTTP service and their maintenance tasks.
//
// Usage:
//
//	proctoring-pipeline worker [audio|vision|gaze|all]
//	proctoring-pipeline biometric
//	proctoring-pipeline migrate [up|down]
//	proctoring-pipeline publish <modality> <job.json>
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
