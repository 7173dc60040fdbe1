//go:build bdd

// Package steps provides godog step definitions for the migration engine's
// BDD suite.
package steps

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/axonops/tenant-schema-engine/internal/catalog"
)

// TestContext holds state shared across steps within a single scenario.
//
// Store gives Given-steps a back door to seed catalog state (e.g. an
// active lock) that has no corresponding HTTP "create" endpoint, the way
// the Lock Manager (C3) only exposes list/force-release/cleanup over HTTP
// and acquires locks internally from the Orchestrator.
type TestContext struct {
	BaseURL        string
	Store          catalog.Store
	LastStatusCode int
	LastBody       []byte
	LastJSON       map[string]interface{}
	LastJSONArray  []interface{}
	StoredValues   map[string]interface{}
	client         *http.Client
}

// NewTestContext creates a fresh test context pointed at an in-process
// server.
func NewTestContext(baseURL string) *TestContext {
	return &TestContext{
		BaseURL:      baseURL,
		StoredValues: make(map[string]interface{}),
		client:       &http.Client{Timeout: 5 * time.Second},
	}
}

func (tc *TestContext) resolveVars(s string) string {
	for key, val := range tc.StoredValues {
		s = strings.ReplaceAll(s, "{{"+key+"}}", fmt.Sprintf("%v", val))
	}
	return s
}

// DoRequest sends an HTTP request and records the response on tc.
func (tc *TestContext) DoRequest(method, path string, body interface{}) error {
	path = tc.resolveVars(path)
	url := tc.BaseURL + path

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := tc.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	tc.LastStatusCode = resp.StatusCode
	tc.LastBody, err = io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}

	tc.LastJSON = nil
	tc.LastJSONArray = nil
	if len(tc.LastBody) > 0 {
		switch tc.LastBody[0] {
		case '{':
			var obj map[string]interface{}
			if err := json.Unmarshal(tc.LastBody, &obj); err == nil {
				tc.LastJSON = obj
			}
		case '[':
			var arr []interface{}
			if err := json.Unmarshal(tc.LastBody, &arr); err == nil {
				tc.LastJSONArray = arr
			}
		}
	}
	return nil
}

func (tc *TestContext) GET(path string) error { return tc.DoRequest("GET", path, nil) }
func (tc *TestContext) POST(path string, body interface{}) error {
	return tc.DoRequest("POST", path, body)
}
func (tc *TestContext) DELETE(path string) error { return tc.DoRequest("DELETE", path, nil) }
