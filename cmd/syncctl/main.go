// syncctl is a small operator CLI against the sync daemon's admin API.
//
// Usage:
//
//	syncctl -addr http://localhost:8080 status
//	syncctl sync contacts
//	syncctl reproject deals
//	syncctl search "acme corp" -type companies -limit 5
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

func main() {
	addr := flag.String("addr", "http://localhost:8080", "admin API base URL")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
	}

	client := &http.Client{Timeout: 5 * time.Minute}
	var err error
	switch args[0] {
	case "status":
		err = get(client, *addr+"/api/status")
	case "sync":
		if len(args) < 2 {
			usage()
		}
		err = post(client, *addr+"/api/sync/"+args[1], nil)
	case "reproject":
		if len(args) < 2 {
			usage()
		}
		err = post(client, *addr+"/api/reproject/"+args[1], nil)
	case "search":
		if len(args) < 2 {
			usage()
		}
		searchFlags := flag.NewFlagSet("search", flag.ExitOnError)
		entityType := searchFlags.String("type", "", "restrict to one entity type")
		limit := searchFlags.Int("limit", 10, "maximum results")
		_ = searchFlags.Parse(args[2:])
		body := map[string]any{"query": args[1], "limit": *limit}
		if *entityType != "" {
			body["entity_type"] = *entityType
		}
		err = post(client, *addr+"/api/search", body)
	default:
		usage()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: syncctl [-addr URL] status | sync <entity> | reproject <entity> | search <query> [-type T] [-limit N]")
	os.Exit(2)
}

func get(client *http.Client, url string) error {
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	return printResponse(resp)
}

func post(client *http.Client, url string, body any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}
	resp, err := client.Post(url, "application/json", reader)
	if err != nil {
		return err
	}
	return printResponse(resp)
}

func printResponse(resp *http.Response) error {
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	var pretty bytes.Buffer
	if json.Indent(&pretty, raw, "", "  ") == nil {
		raw = pretty.Bytes()
	}
	fmt.Println(string(raw))
	if resp.StatusCode >= 400 {
		return fmt.Errorf("status %s", resp.Status)
	}
	return nil
}
