package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// Client speaks the daemon HTTP API.
type Client struct {
	base string
	http *http.Client
}

// NewClient creates a client for the daemon at base.
func NewClient(base string) *Client {
	return &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 2 * time.Minute},
	}
}

// Ping checks the daemon health endpoint.
func (c *Client) Ping() error {
	var out map[string]string
	return c.get("/api/v1/health", &out)
}

func (c *Client) cmdProtocols(w io.Writer) {
	var out struct {
		Protocols []string `json:"protocols"`
	}
	if err := c.get("/api/v1/protocols", &out); err != nil {
		fmt.Fprintf(w, "error: %v\n", err)
		return
	}
	for _, name := range out.Protocols {
		fmt.Fprintln(w, name)
	}
}

func (c *Client) cmdDevices(w io.Writer) {
	var devices []struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		Protocol string `json:"protocol"`
		Address  string `json:"address"`
		Port     int    `json:"port"`
	}
	if err := c.get("/api/v1/devices", &devices); err != nil {
		fmt.Fprintf(w, "error: %v\n", err)
		return
	}
	if len(devices) == 0 {
		fmt.Fprintln(w, "no devices registered")
		return
	}
	for _, d := range devices {
		fmt.Fprintf(w, "%s  %-20s %-12s %s:%d\n", d.ID, d.Name, d.Protocol, d.Address, d.Port)
	}
}

func (c *Client) cmdRegister(w io.Writer, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(w, "usage: register <file.json>")
		return
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		fmt.Fprintf(w, "error: %v\n", err)
		return
	}

	var out map[string]string
	if err := c.post("/api/v1/devices", json.RawMessage(data), &out); err != nil {
		fmt.Fprintf(w, "error: %v\n", err)
		return
	}
	fmt.Fprintf(w, "registered %s\n", out["id"])
}

func (c *Client) cmdRead(w io.Writer, args []string) {
	if len(args) != 2 {
		fmt.Fprintln(w, "usage: read <device-id> <parameter>")
		return
	}
	c.query(w, map[string]any{
		"device_id": args[0],
		"parameter": args[1],
		"kind":      0,
	})
}

func (c *Client) cmdWrite(w io.Writer, args []string) {
	if len(args) != 3 {
		fmt.Fprintln(w, "usage: write <device-id> <parameter> <value>")
		return
	}
	c.query(w, map[string]any{
		"device_id": args[0],
		"parameter": args[1],
		"kind":      1,
		"value":     parseValue(args[2]),
	})
}

func (c *Client) query(w io.Writer, intent map[string]any) {
	var reading struct {
		Parameter string  `json:"parameter"`
		Value     any     `json:"value"`
		Unit      string  `json:"unit"`
		Protocol  string  `json:"protocol"`
		Latency   float64 `json:"latency"`
	}
	if err := c.post("/api/v1/query", intent, &reading); err != nil {
		fmt.Fprintf(w, "error: %v\n", err)
		return
	}
	if reading.Unit != "" {
		fmt.Fprintf(w, "%s = %v %s (%s, %s)\n", reading.Parameter, reading.Value, reading.Unit,
			reading.Protocol, time.Duration(reading.Latency))
		return
	}
	fmt.Fprintf(w, "%s = %v (%s, %s)\n", reading.Parameter, reading.Value,
		reading.Protocol, time.Duration(reading.Latency))
}

func (c *Client) cmdContext(w io.Writer, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(w, "usage: context <device-id>")
		return
	}
	var record map[string]any
	if err := c.get("/api/v1/devices/"+args[0]+"/context", &record); err != nil {
		fmt.Fprintf(w, "error: %v\n", err)
		return
	}
	pretty, _ := json.MarshalIndent(record, "", "  ")
	fmt.Fprintln(w, string(pretty))
}

func (c *Client) cmdTroubleshoot(w io.Writer, args []string) {
	if len(args) != 2 {
		fmt.Fprintln(w, "usage: troubleshoot <device-id> <code>")
		return
	}
	var diagnosis struct {
		Code            string         `json:"code"`
		Description     string         `json:"description"`
		Troubleshooting []string       `json:"troubleshooting"`
		Maintenance     map[string]int `json:"maintenance"`
		Advisory        bool           `json:"advisory"`
	}
	if err := c.get("/api/v1/devices/"+args[0]+"/troubleshoot?code="+args[1], &diagnosis); err != nil {
		fmt.Fprintf(w, "error: %v\n", err)
		return
	}

	fmt.Fprintf(w, "%s: %s\n", diagnosis.Code, diagnosis.Description)
	if diagnosis.Advisory {
		fmt.Fprintln(w, "(advisory: low-confidence or stale context, verify against documentation)")
	}
	for _, note := range diagnosis.Troubleshooting {
		fmt.Fprintf(w, "  - %s\n", note)
	}
	for task, days := range diagnosis.Maintenance {
		fmt.Fprintf(w, "  maintenance: %s every %d days\n", task, days)
	}
}

// get performs a GET and decodes the JSON response.
func (c *Client) get(path string, out any) error {
	resp, err := c.http.Get(c.base + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decode(resp, out)
}

// post performs a JSON POST and decodes the response.
func (c *Client) post(path string, body any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := c.http.Post(c.base+path, "application/json", bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decode(resp, out)
}

// decode reads a response, turning error bodies into errors.
func decode(resp *http.Response, out any) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s", apiErr.Error)
		}
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(body, out)
}

// parseValue interprets a shell argument as a number, bool or string.
func parseValue(s string) any {
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s
}
