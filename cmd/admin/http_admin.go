package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

func stateCmd(args []string) {
	fs := flag.NewFlagSet("state", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)

	u := strings.TrimRight(strings.TrimSpace(*baseURL), "/") + "/admin/v1/state"
	cl := &http.Client{Timeout: 5 * time.Second}
	resp, err := cl.Get(u)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Println(string(b))
	if resp.StatusCode/100 != 2 {
		os.Exit(1)
	}
}

// cameraCmd moves, clears or pins the eviction camera of a running server.
func cameraCmd(args []string) {
	fs := flag.NewFlagSet("camera", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	pos := fs.String("pos", "", "camera position x,y")
	clearCam := fs.Bool("clear", false, "remove the camera (disables eviction)")
	follow := fs.String("follow", "", "provider id to follow")
	_ = fs.Parse(args)

	body := map[string]any{}
	switch {
	case *clearCam:
		body["clear"] = true
	case strings.TrimSpace(*follow) != "":
		body["follow"] = strings.TrimSpace(*follow)
	case strings.TrimSpace(*pos) != "":
		p, err := parseVec2(*pos)
		if err != nil {
			fmt.Fprintln(os.Stderr, "bad -pos:", err)
			os.Exit(2)
		}
		body["pos"] = p
	default:
		fmt.Fprintln(os.Stderr, "one of -pos, -clear, -follow is required")
		os.Exit(2)
	}
	raw, _ := json.Marshal(body)

	u := strings.TrimRight(strings.TrimSpace(*baseURL), "/") + "/admin/v1/camera"
	cl := &http.Client{Timeout: 5 * time.Second}
	resp, err := cl.Post(u, "application/json", bytes.NewReader(raw))
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(os.Stderr, "status %d: %s\n", resp.StatusCode, strings.TrimSpace(string(b)))
		os.Exit(1)
	}
	fmt.Println("ok")
}

func parseVec2(s string) ([2]float64, error) {
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 2 {
		return [2]float64{}, fmt.Errorf("expected x,y")
	}
	var out [2]float64
	for i := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(parts[i]), 64)
		if err != nil {
			return [2]float64{}, err
		}
		out[i] = v
	}
	return out, nil
}
