// Package supabase wires the supabase-community SDKs for one hosted
// project: PostgREST tables, GoTrue auth and object storage.
package supabase

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	gotrue "github.com/supabase-community/gotrue-go"
	"github.com/supabase-community/postgrest-go"
	storage_go "github.com/supabase-community/storage-go"
)

// Client talks to one Supabase project. The zero value is not usable; build it
// with New.
type Client struct {
	rest  *postgrest.Client
	auth  gotrue.Client
	files *storage_go.Client
}

type Config struct {
	URL    string
	APIKey string
}

func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("URL is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("APIKey is required")
	}

	base := strings.TrimSuffix(cfg.URL, "/")
	rest := postgrest.NewClient(base+"/rest/v1", "public", map[string]string{
		"apikey":        cfg.APIKey,
		"Authorization": "Bearer " + cfg.APIKey,
	})
	if rest.ClientError != nil {
		return nil, fmt.Errorf("postgrest client: %w", rest.ClientError)
	}

	return &Client{
		rest:  rest,
		auth:  gotrue.New("", cfg.APIKey).WithCustomGoTrueURL(base + "/auth/v1"),
		files: storage_go.NewClient(base+"/storage/v1", cfg.APIKey, map[string]string{"apikey": cfg.APIKey}),
	}, nil
}

// From starts a PostgREST query on table.
func (c *Client) From(table string) *postgrest.QueryBuilder {
	return c.rest.From(table)
}

// Error is a failed Supabase response.
type Error struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("supabase error %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("supabase error %d: %s", e.StatusCode, e.Message)
}

// StatusCode extracts the HTTP status of a Supabase error, or 0.
func StatusCode(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// gotrue-go reports failures as "response status code <n>: <body>".
var authStatus = regexp.MustCompile(`(?s)^response status code (\d+)(?::\s*(.*))?$`)

// authError turns a gotrue-go error into an *Error so callers can branch on
// the status. Transport errors pass through unchanged.
func authError(err error) error {
	m := authStatus.FindStringSubmatch(err.Error())
	if m == nil {
		return err
	}
	status, convErr := strconv.Atoi(m[1])
	if convErr != nil {
		return err
	}
	return parseError(status, []byte(m[2]))
}

func parseError(status int, body []byte) *Error {
	var payload struct {
		Message          string `json:"message"`
		Msg              string `json:"msg"`
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
		Code             any    `json:"code"`
		ErrorCode        string `json:"error_code"`
	}

	apiErr := &Error{StatusCode: status}
	if err := json.Unmarshal(body, &payload); err == nil {
		switch {
		case payload.Message != "":
			apiErr.Message = payload.Message
		case payload.Msg != "":
			apiErr.Message = payload.Msg
		case payload.ErrorDescription != "":
			apiErr.Message = payload.ErrorDescription
		case payload.Error != "":
			apiErr.Message = payload.Error
		}
		switch code := payload.Code.(type) {
		case string:
			apiErr.Code = code
		case float64:
			apiErr.Code = payload.ErrorCode
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}
