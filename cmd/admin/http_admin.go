package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

func statsCmd(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)

	doRequest(http.MethodGet, endpoint(*baseURL, "/v1/stats"), nil, 5*time.Second)
}

func snapshotCmd(args []string) {
	fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)

	doRequest(http.MethodPost, endpoint(*baseURL, "/admin/v1/snapshot"), nil, 10*time.Second)
}

// toggleCmd flips the creation or randomness switch as the admin.
func toggleCmd(args []string) {
	fs := flag.NewFlagSet("toggle", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	caller := fs.String("caller", "", "admin address (required)")
	_ = fs.Parse(args)

	which := ""
	if fs.NArg() > 0 {
		which = strings.ToLower(strings.TrimSpace(fs.Arg(0)))
	}
	if which != "creation" && which != "randomness" {
		fmt.Fprintln(os.Stderr, "usage: admin toggle [-url URL] -caller ADDR creation|randomness")
		os.Exit(2)
	}
	if strings.TrimSpace(*caller) == "" {
		fmt.Fprintln(os.Stderr, "missing -caller")
		os.Exit(2)
	}
	doRequest(http.MethodPost, endpoint(*baseURL, "/admin/v1/"+which+"/toggle"), map[string]string{"X-Caller": *caller}, 5*time.Second)
}

func endpoint(base, path string) string {
	return strings.TrimRight(strings.TrimSpace(base), "/") + path
}

func doRequest(method, u string, headers map[string]string, timeout time.Duration) {
	var body io.Reader
	if method == http.MethodPost {
		body = bytes.NewReader([]byte("{}"))
	}
	req, err := http.NewRequest(method, u, body)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(2)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	cl := &http.Client{Timeout: timeout}
	resp, err := cl.Do(req)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	var v any
	if json.Unmarshal(b, &v) == nil {
		printJSON(v)
	} else {
		fmt.Println(string(b))
	}
	if resp.StatusCode/100 != 2 {
		os.Exit(1)
	}
}
