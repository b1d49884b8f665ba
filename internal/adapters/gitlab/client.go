package gitlab

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

type Client struct {
	baseURL  string
	token    string
	pageSize int
	http     *http.Client
	log      zerolog.Logger
}

func NewClient(cfg config.Config, log zerolog.Logger) *Client {
	return &Client{
		baseURL:  cfg.GitLabBaseURL,
		token:    cfg.GitLabToken,
		pageSize: cfg.GitLabPageSize,
		http:     &http.Client{Timeout: cfg.HTTPTimeout},
		log:      log,
	}
}

func (c *Client) Configured() bool { return c.baseURL != "" && c.token != "" }

func (c *Client) PageSize() int {
	if c.pageSize <= 0 { return 100 }
	return c.pageSize
}

type Project struct {
	ID                int64  `json:"id"`
	Name              string `json:"name"`
	NameWithNamespace string `json:"name_with_namespace"`
}

type Commit struct {
	ID            string `json:"id"`
	Message       string `json:"message"`
	CreatedAt     string `json:"created_at"`
	CommittedDate string `json:"committed_date"`
	AuthorName    string `json:"author_name"`
	AuthorEmail   string `json:"author_email"`
}

func (c *Client) apiURL(path string, q url.Values) string {
	u := c.baseURL + "/api/v4" + path
	if len(q) > 0 { u += "?" + q.Encode() }
	return u
}

func (c *Client) get(ctx context.Context, u string, out any) error {
	if c.baseURL == "" { return errors.New("gitlab: empty baseURL") }
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil { return err }
		req.Header.Set("Accept", "application/json")
		if c.token != "" { req.Header.Set("PRIVATE-TOKEN", c.token) }
		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
		} else {
			body, rerr := io.ReadAll(resp.Body)
			resp.Body.Close()
			if rerr != nil { return rerr }
			if resp.StatusCode >= 300 {
				err := fmt.Errorf("gitlab api status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(body)))
				if resp.StatusCode != 429 && resp.StatusCode < 500 { return err }
				lastErr = err
			} else {
				return json.Unmarshal(body, out)
			}
		}
		time.Sleep(time.Duration(300*(1<<attempt)) * time.Millisecond)
	}
	return lastErr
}

func (c *Client) Project(ctx context.Context, id int64) (Project, error) {
	var out Project
	err := c.get(ctx, c.apiURL(fmt.Sprintf("/projects/%d", id), nil), &out)
	return out, err
}

// Commits pages repository commits within [since, until] (ISO8601 strings).
func (c *Client) Commits(ctx context.Context, projectID int64, since, until string, page int) ([]Commit, error) {
	q := url.Values{}
	q.Set("page", fmt.Sprint(page))
	q.Set("per_page", fmt.Sprint(c.PageSize()))
	if since != "" { q.Set("since", since) }
	if until != "" { q.Set("until", until) }
	var out []Commit
	err := c.get(ctx, c.apiURL(fmt.Sprintf("/projects/%d/repository/commits", projectID), q), &out)
	return out, err
}
