package jira

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/zieduz/jira-dashboard/internal/config"
)

// Field list requested on every search; the configured story-points and
// customer custom fields are appended when set.
var searchFields = []string{
	"summary", "description", "status", "priority", "issuetype", "assignee",
	"created", "updated", "resolutiondate", "timeestimate", "timespent", "labels",
}

type Client struct {
	baseURL     string
	user        string
	token       string
	bearer      string
	apiVer      string
	pointsField string
	custField   string
	http        *http.Client
	log         zerolog.Logger
}

func NewClient(cfg config.Config, log zerolog.Logger) *Client {
	return &Client{
		baseURL:     cfg.JiraBaseURL,
		user:        cfg.JiraUsername,
		token:       cfg.JiraAPIToken,
		bearer:      cfg.JiraBearerToken,
		apiVer:      cfg.JiraAPIVersion,
		pointsField: cfg.JiraStoryPointsField,
		custField:   cfg.JiraCustomerField,
		http:        &http.Client{Timeout: cfg.HTTPTimeout},
		log:         log,
	}
}

func (c *Client) Configured() bool {
	return c.baseURL != "" && (c.bearer != "" || (c.user != "" && c.token != ""))
}

func (c *Client) PointsField() string { return c.pointsField }
func (c *Client) CustomerField() string { return c.custField }

type Project struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type Issue struct {
	Key    string         `json:"key"`
	Fields map[string]any `json:"fields"`
}

type SearchResult struct {
	StartAt    int     `json:"startAt"`
	MaxResults int     `json:"maxResults"`
	Total      int     `json:"total"`
	Issues     []Issue `json:"issues"`
}

func (c *Client) apiURL(path string, q url.Values) string {
	u := c.baseURL + "/rest/api/" + c.apiVer + path
	if len(q) > 0 { u += "?" + q.Encode() }
	return u
}

type apiError struct {
	Status int
	Body   string
}

func (e *apiError) Error() string { return fmt.Sprintf("jira api status=%d body=%s", e.Status, e.Body) }

func (c *Client) get(ctx context.Context, u string, out any) error {
	if c.baseURL == "" { return errors.New("jira: empty baseURL") }
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil { return err }
		req.Header.Set("Accept", "application/json")
		if c.bearer != "" {
			req.Header.Set("Authorization", "Bearer "+c.bearer)
		} else if c.user != "" && c.token != "" {
			req.SetBasicAuth(c.user, c.token)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
		} else {
			body, rerr := io.ReadAll(resp.Body)
			resp.Body.Close()
			if rerr != nil { return rerr }
			if resp.StatusCode >= 300 {
				apiErr := &apiError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
				// retry only on throttling and server errors
				if resp.StatusCode != 429 && resp.StatusCode < 500 { return apiErr }
				lastErr = apiErr
			} else {
				return json.Unmarshal(body, out)
			}
		}
		time.Sleep(time.Duration(300*(1<<attempt)) * time.Millisecond)
	}
	return lastErr
}

// Projects lists every project visible to the credential.
func (c *Client) Projects(ctx context.Context) ([]Project, error) {
	var out []Project
	if err := c.get(ctx, c.apiURL("/project", nil), &out); err != nil { return nil, err }
	return out, nil
}

// ProjectIssues pages issues for one project, optionally bounded by a
// created >= date (YYYY-MM-DD). When the instance rejects the configured
// story-points field, the search is retried once without it.
func (c *Client) ProjectIssues(ctx context.Context, projectKey, createdSince string, startAt, maxResults int) (SearchResult, error) {
	fields := append([]string{}, searchFields...)
	if c.pointsField != "" { fields = append(fields, c.pointsField) }
	if c.custField != "" { fields = append(fields, c.custField) }

	res, err := c.search(ctx, projectKey, createdSince, startAt, maxResults, fields)
	if err == nil { return res, nil }

	var apiErr *apiError
	if c.pointsField != "" && errors.As(err, &apiErr) && strings.Contains(apiErr.Body, c.pointsField) {
		c.log.Warn().Str("project", projectKey).Str("field", c.pointsField).Msg("jira rejected story points field, retrying without it")
		trimmed := make([]string, 0, len(fields))
		for _, f := range fields {
			if f != c.pointsField { trimmed = append(trimmed, f) }
		}
		return c.search(ctx, projectKey, createdSince, startAt, maxResults, trimmed)
	}
	return SearchResult{}, err
}

func (c *Client) search(ctx context.Context, projectKey, createdSince string, startAt, maxResults int, fields []string) (SearchResult, error) {
	jql := "project = " + projectKey
	if createdSince != "" { jql += fmt.Sprintf(" AND created >= %q", createdSince) }
	q := url.Values{}
	q.Set("jql", jql)
	q.Set("startAt", fmt.Sprint(startAt))
	q.Set("maxResults", fmt.Sprint(maxResults))
	q.Set("fields", strings.Join(fields, ","))
	var out SearchResult
	if err := c.get(ctx, c.apiURL("/search", q), &out); err != nil { return SearchResult{}, err }
	return out, nil
}
