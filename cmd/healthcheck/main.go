// Package main provides the container healthcheck for the policy server.
// It probes the readiness endpoint and exits 0 on a 2xx response, 1 on
// anything else, so it can serve as a Docker HEALTHCHECK or Kubernetes
// exec probe without a shell or curl in the image.
//
// The probed URL defaults to the local readiness endpoint and can be
// overridden by an argument or the POLICY_HEALTHCHECK_URL environment
// variable.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"
)

const defaultURL = "http://localhost:8080/readyz"

func main() {
	timeout := flag.Duration("timeout", 5*time.Second, "probe timeout")
	flag.Parse()

	url := defaultURL
	if env := os.Getenv("POLICY_HEALTHCHECK_URL"); env != "" {
		url = env
	}
	if flag.NArg() > 0 {
		url = flag.Arg(0)
	}

	client := &http.Client{Timeout: *timeout}

	resp, err := client.Get(url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "healthcheck failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		fmt.Fprintf(os.Stderr, "healthcheck failed: %s returned status %d\n", url, resp.StatusCode)
		os.Exit(1)
	}
}
